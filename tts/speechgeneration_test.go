package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEndpointSpeechGenerator(t *testing.T) {
	clip := []byte{0xff, 0xfb, 0x90, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Text string `json:"text"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("Bad request body: %v", err)
			}
			if req.Text != "good morning" {
				t.Errorf("Unexpected text %q", req.Text)
			}
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write(clip)
		},
	))
	defer srv.Close()

	audio, err := NewEndpointSpeechGenerator(srv.URL, "").
		Synthesize(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != string(clip) {
		t.Errorf("Synthesize = %x, want %x", audio, clip)
	}
}

func TestEndpointSpeechGeneratorErrors(t *testing.T) {
	t.Run("Bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			},
		))
		defer srv.Close()

		_, err := NewEndpointSpeechGenerator(srv.URL, "").
			Synthesize(context.Background(), "hi")
		if err == nil || !strings.Contains(err.Error(), "429") {
			t.Errorf("Expected status error, got %v", err)
		}
	})

	t.Run("Empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {},
		))
		defer srv.Close()

		_, err := NewEndpointSpeechGenerator(srv.URL, "").
			Synthesize(context.Background(), "hi")
		if !errors.Is(err, ErrEmptyAudio) {
			t.Errorf("Expected ErrEmptyAudio, got %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := New("elevenlabs", Options{}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Expected ErrMissingKey, got %v", err)
	}
	if _, err := New("endpoint", Options{}); err == nil {
		t.Errorf("Endpoint provider without url should fail")
	}
	if _, err := New("kazoo", Options{}); err == nil {
		t.Errorf("Unknown provider should fail")
	}

	gen, err := New("elevenlabs", Options{APIKey: "xi"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	e := gen.(*ElevenLabsSpeechGenerator)
	if e.opts.VoiceID != DefaultVoiceID || e.opts.Model != DefaultModelID {
		t.Errorf("Expected defaults, got %+v", e.opts)
	}
}
