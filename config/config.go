package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"node.town/parley/audio"
	"node.town/parley/llm"
	"node.town/parley/stt"
	"node.town/parley/transcript"
	"node.town/parley/tts"
)

type Config struct {
	Deepgram   DeepgramConfig   `mapstructure:"deepgram"`
	LLM        LLMConfig        `mapstructure:"llm"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Session    SessionConfig    `mapstructure:"session"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

type DeepgramConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	URL              string        `mapstructure:"url"`
	Model            string        `mapstructure:"model"`
	Language         string        `mapstructure:"language"`
	Punctuate        bool          `mapstructure:"punctuate"`
	Endpointing      bool          `mapstructure:"endpointing"`
	InterimResults   bool          `mapstructure:"interim_results"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
}

type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	Endpoint     string  `mapstructure:"endpoint"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
}

type TTSConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	VoiceID  string `mapstructure:"voice_id"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

type AudioConfig struct {
	FramesPerBuffer  int  `mapstructure:"frames_per_buffer"`
	RelayCapacity    int  `mapstructure:"relay_capacity"`
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
}

type TranscriptConfig struct {
	Flush string `mapstructure:"flush"`
}

type SessionConfig struct {
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TTSDisabled turns speech output off; responses are only shown.
const TTSDisabled = "none"

func SetDefaults(v *viper.Viper) {
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.url", stt.DefaultURL)
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "en-US")
	v.SetDefault("deepgram.punctuate", true)
	v.SetDefault("deepgram.endpointing", true)
	v.SetDefault("deepgram.interim_results", true)
	v.SetDefault("deepgram.handshake_timeout", stt.DefaultHandshakeTimeout)
	v.SetDefault("deepgram.close_timeout", stt.DefaultCloseTimeout)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.system_prompt", llm.DefaultSystemPrompt)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("tts.provider", "elevenlabs")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.voice_id", tts.DefaultVoiceID)
	v.SetDefault("tts.model", tts.DefaultModelID)
	v.SetDefault("tts.endpoint", "")

	v.SetDefault("audio.frames_per_buffer", audio.SampleRate/50)
	v.SetDefault("audio.relay_capacity", 8)
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.auto_gain_control", true)

	v.SetDefault("transcript.flush", "final")
	v.SetDefault("session.keep_alive_interval", 10*time.Second)
	v.SetDefault("http.addr", "")
	v.SetDefault("log.level", "info")
}

// BindEnv maps dotted keys to environment variables (deepgram.api_key
// reads DEEPGRAM_API_KEY) and accepts the vendor key names too.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("tts.api_key", "TTS_API_KEY", "ELEVENLABS_API_KEY")
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	add := func(problem string) {
		err = multierr.Append(err, fmt.Errorf("%w: %s", ErrInvalid, problem))
	}

	if c.Deepgram.APIKey == "" {
		add("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			add(fmt.Sprintf("missing LLM_API_KEY for %s", c.LLM.Provider))
		}
	case "endpoint":
		if c.LLM.Endpoint == "" {
			add("llm.endpoint is required for the endpoint provider")
		}
	default:
		add(fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.TTS.Provider {
	case TTSDisabled:
	case "elevenlabs":
		if c.TTS.APIKey == "" {
			add("missing ELEVENLABS_API_KEY or --elevenlabs-api-key=")
		}
	case "endpoint":
		if c.TTS.Endpoint == "" {
			add("tts.endpoint is required for the endpoint provider")
		}
	default:
		add(fmt.Sprintf("unknown tts.provider %q", c.TTS.Provider))
	}

	if _, ok := transcript.ParsePolicy(c.Transcript.Flush); !ok {
		add(fmt.Sprintf("transcript.flush must be final or endpoint, got %q", c.Transcript.Flush))
	}
	if _, perr := log.ParseLevel(c.Log.Level); perr != nil {
		add(fmt.Sprintf("log.level: %v", perr))
	}
	if c.Audio.FramesPerBuffer <= 0 {
		add("audio.frames_per_buffer must be positive")
	}
	if c.Session.KeepAliveInterval <= 0 {
		add("session.keep_alive_interval must be positive")
	}

	return err
}

func (c *Config) TranscriptionOptions() stt.Options {
	return stt.Options{
		URL:              c.Deepgram.URL,
		APIKey:           c.Deepgram.APIKey,
		Model:            c.Deepgram.Model,
		Language:         c.Deepgram.Language,
		SampleRate:       audio.SampleRate,
		Channels:         audio.Channels,
		Encoding:         audio.Encoding,
		Punctuate:        c.Deepgram.Punctuate,
		Endpointing:      c.Deepgram.Endpointing,
		InterimResults:   c.Deepgram.InterimResults,
		HandshakeTimeout: c.Deepgram.HandshakeTimeout,
		CloseTimeout:     c.Deepgram.CloseTimeout,
	}
}

func (c *Config) Constraints() audio.Constraints {
	return audio.Constraints{
		EchoCancellation: c.Audio.EchoCancellation,
		NoiseSuppression: c.Audio.NoiseSuppression,
		AutoGainControl:  c.Audio.AutoGainControl,
	}
}

func (c *Config) Policy() transcript.Policy {
	p, _ := transcript.ParsePolicy(c.Transcript.Flush)
	return p
}

func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		APIKey:       c.LLM.APIKey,
		Model:        c.LLM.Model,
		Endpoint:     c.LLM.Endpoint,
		SystemPrompt: c.LLM.SystemPrompt,
		MaxTokens:    c.LLM.MaxTokens,
		Temperature:  c.LLM.Temperature,
	}
}

func (c *Config) TTSOptions() tts.Options {
	return tts.Options{
		APIKey:   c.TTS.APIKey,
		VoiceID:  c.TTS.VoiceID,
		Model:    c.TTS.Model,
		Endpoint: c.TTS.Endpoint,
	}
}

func (c *Config) SpeechEnabled() bool {
	return c.TTS.Provider != TTSDisabled
}
