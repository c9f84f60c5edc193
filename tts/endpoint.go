package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EndpointSpeechGenerator posts {"text": ...} and returns the response body
// as audio.
type EndpointSpeechGenerator struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewEndpointSpeechGenerator(url, apiKey string) *EndpointSpeechGenerator {
	return &EndpointSpeechGenerator{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *EndpointSpeechGenerator) Synthesize(
	ctx context.Context,
	text string,
) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	if e.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.APIKey))
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf(
			"unexpected status code: %d, response body: %s",
			resp.StatusCode,
			strings.TrimSpace(string(detail)),
		)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
