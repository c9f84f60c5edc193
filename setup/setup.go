package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type Answers struct {
	DeepgramAPIKey string
	LLMProvider    string
	LLMAPIKey      string
	LLMEndpoint    string
	TTSProvider    string
	TTSAPIKey      string
	TTSEndpoint    string
}

// Run prompts for credentials and providers and writes them to path.
func Run(v *viper.Viper, path string, logger *log.Logger) error {
	logger.Info("setup", "config", path)

	answers := Answers{
		DeepgramAPIKey: v.GetString("deepgram.api_key"),
		LLMProvider:    v.GetString("llm.provider"),
		LLMAPIKey:      v.GetString("llm.api_key"),
		LLMEndpoint:    v.GetString("llm.endpoint"),
		TTSProvider:    v.GetString("tts.provider"),
		TTSAPIKey:      v.GetString("tts.api_key"),
		TTSEndpoint:    v.GetString("tts.endpoint"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Deepgram API Key").
				Password(true).
				Value(&answers.DeepgramAPIKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Language model").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Gemini", "gemini"),
					huh.NewOption("HTTP endpoint", "endpoint"),
				).
				Value(&answers.LLMProvider),
			huh.NewInput().
				Title("Enter your language model API Key").
				Description("Leave empty for an endpoint without auth").
				Password(true).
				Value(&answers.LLMAPIKey),
			huh.NewInput().
				Title("Language model endpoint URL").
				Description("Only used by the endpoint provider").
				Value(&answers.LLMEndpoint),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Speech output").
				Options(
					huh.NewOption("ElevenLabs", "elevenlabs"),
					huh.NewOption("HTTP endpoint", "endpoint"),
					huh.NewOption("None", "none"),
				).
				Value(&answers.TTSProvider),
			huh.NewInput().
				Title("Enter your ElevenLabs API Key").
				Password(true).
				Value(&answers.TTSAPIKey),
			huh.NewInput().
				Title("Speech endpoint URL").
				Description("Only used by the endpoint provider").
				Value(&answers.TTSEndpoint),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}

	if err := Save(v, path, answers); err != nil {
		return err
	}

	logger.Info("setup completed", "config", path)
	return nil
}

// Save stores the answers in v and writes the config file, creating it
// when it does not exist yet.
func Save(v *viper.Viper, path string, a Answers) error {
	v.Set("deepgram.api_key", a.DeepgramAPIKey)
	v.Set("llm.provider", a.LLMProvider)
	v.Set("llm.api_key", a.LLMAPIKey)
	v.Set("llm.endpoint", a.LLMEndpoint)
	v.Set("tts.provider", a.TTSProvider)
	v.Set("tts.api_key", a.TTSAPIKey)
	v.Set("tts.endpoint", a.TTSEndpoint)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := v.SafeWriteConfigAs(path); err != nil {
			return fmt.Errorf("create config: %w", err)
		}
		return nil
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
