package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is one transcript update from the service.
type Event struct {
	Text    string
	IsFinal bool
	// SpeechFinal is set when the service detected the end of an utterance.
	SpeechFinal bool
}

var (
	ErrHandshake    = errors.New("transcription handshake failed")
	ErrDisconnected = errors.New("transcription connection lost")
	ErrMalformed    = errors.New("malformed transcription message")
	ErrService      = errors.New("transcription service error")
	ErrMissingKey   = errors.New("missing transcription api key")
)

// Stream is one open connection to a streaming transcription service.
//
// Events and Errors each have a single consumer; both channels are closed
// once the connection has shut down.
type Stream interface {
	Send(frame []byte) bool
	KeepAlive() bool
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

type Transcriber interface {
	Open(ctx context.Context, opts Options) (Stream, error)
}

type Options struct {
	URL              string
	APIKey           string
	Model            string
	Language         string
	SampleRate       int
	Channels         int
	Encoding         string
	Punctuate        bool
	Endpointing      bool
	InterimResults   bool
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
}

func (o Options) Validate() error {
	switch {
	case o.APIKey == "":
		return ErrMissingKey
	case o.Model == "":
		return fmt.Errorf("transcription model is required")
	case o.Language == "":
		return fmt.Errorf("transcription language is required")
	case o.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", o.SampleRate)
	case o.Channels <= 0:
		return fmt.Errorf("invalid channel count %d", o.Channels)
	case o.Encoding == "":
		return fmt.Errorf("transcription encoding is required")
	}
	return nil
}
