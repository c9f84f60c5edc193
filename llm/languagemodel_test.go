package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestEndpointLanguageModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("Expected POST, got %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
				t.Errorf("Unexpected authorization %q", auth)
			}

			var req completionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("Bad request body: %v", err)
			}
			json.NewEncoder(w).Encode(completionResponse{
				Response: "you said " + req.Text,
			})
		},
	))
	defer srv.Close()

	model := NewEndpointLanguageModel(srv.URL, "secret")
	got, err := model.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "you said hello" {
		t.Errorf("Complete = %q", got)
	}
}

func TestEndpointLanguageModelErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "Server error",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(err error) bool {
				return strings.Contains(err.Error(), "500") &&
					strings.Contains(err.Error(), "boom")
			},
		},
		{
			name:   "Bad JSON",
			status: http.StatusOK,
			body:   "{",
			check: func(err error) bool {
				return strings.Contains(err.Error(), "decode")
			},
		},
		{
			name:   "Empty response",
			status: http.StatusOK,
			body:   `{"response":"  "}`,
			check: func(err error) bool {
				return errors.Is(err, ErrEmptyResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(tt.body))
				},
			))
			defer srv.Close()

			_, err := NewEndpointLanguageModel(srv.URL, "").
				Complete(context.Background(), "hi")
			if err == nil || !tt.check(err) {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestEndpointLanguageModelCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEndpointLanguageModel(srv.URL, "").Complete(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOpenAILanguageModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}

			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("Bad request body: %v", err)
			}
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Errorf("Expected system and user messages, got %+v", req.Messages)
			}
			if req.Messages[1].Content != "what time is it" {
				t.Errorf("Unexpected user message %q", req.Messages[1].Content)
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"model": "` + req.Model + `",
				"choices": [{
					"index": 0,
					"message": {"role": "assistant", "content": " Late. "},
					"finish_reason": "stop"
				}]
			}`))
		},
	))
	defer srv.Close()

	model, err := NewOpenAILanguageModel(Options{
		APIKey:   "sk-test",
		Endpoint: srv.URL + "/v1",
	})
	if err != nil {
		t.Fatalf("NewOpenAILanguageModel failed: %v", err)
	}

	got, err := model.Complete(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Late." {
		t.Errorf("Complete = %q, want %q", got, "Late.")
	}
}

func TestOpenAILanguageModelNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
		},
	))
	defer srv.Close()

	model, err := NewOpenAILanguageModel(Options{
		APIKey:   "sk-test",
		Endpoint: srv.URL + "/v1",
	})
	if err != nil {
		t.Fatalf("NewOpenAILanguageModel failed: %v", err)
	}
	if _, err := model.Complete(context.Background(), "hi"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	for _, provider := range []string{"openai", "gemini"} {
		if _, err := New(context.Background(), provider, Options{}); !errors.Is(err, ErrMissingKey) {
			t.Errorf("%s: expected ErrMissingKey, got %v", provider, err)
		}
	}
	if _, err := New(context.Background(), "endpoint", Options{}); err == nil {
		t.Errorf("Endpoint provider without url should fail")
	}
	if _, err := New(context.Background(), "parrot", Options{APIKey: "k"}); err == nil {
		t.Errorf("Unknown provider should fail")
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Hello"),
				genai.Text(", world"),
			}}},
			{Content: nil},
		},
	}
	if got := responseText(resp); got != "Hello, world" {
		t.Errorf("responseText = %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q", got)
	}
}
