package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
)

// SpeechGenerator turns response text into one playable clip.
type SpeechGenerator interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

var (
	ErrMissingKey = errors.New("missing speech synthesis api key")
	ErrEmptyAudio = errors.New("speech synthesis returned no audio")
)

const (
	DefaultVoiceID = "pKLLpypGseGMUjkb5fEZ"
	DefaultModelID = "eleven_turbo_v2_5"
)

type Options struct {
	APIKey   string
	VoiceID  string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

type ElevenLabsSpeechGenerator struct {
	opts Options
}

func NewElevenLabsSpeechGenerator(opts Options) (*ElevenLabsSpeechGenerator, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingKey
	}
	if opts.VoiceID == "" {
		opts.VoiceID = DefaultVoiceID
	}
	if opts.Model == "" {
		opts.Model = DefaultModelID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ElevenLabsSpeechGenerator{opts: opts}, nil
}

func (e *ElevenLabsSpeechGenerator) Synthesize(
	ctx context.Context,
	text string,
) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, e.opts.APIKey, e.opts.Timeout)
	audio, err := client.TextToSpeech(
		e.opts.VoiceID,
		elevenlabs.TextToSpeechRequest{
			Text:    text,
			ModelID: e.opts.Model,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

// New builds the speech generator named by provider.
func New(provider string, opts Options) (SpeechGenerator, error) {
	switch provider {
	case "", "elevenlabs":
		return NewElevenLabsSpeechGenerator(opts)
	case "endpoint":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("endpoint speech generator needs a url")
		}
		return NewEndpointSpeechGenerator(opts.Endpoint, opts.APIKey), nil
	}
	return nil, fmt.Errorf("unknown speech provider %q", provider)
}
