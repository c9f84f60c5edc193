package llm

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

// EndpointLanguageModel posts {"text": ...} and reads {"response": ...}.
type EndpointLanguageModel struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewEndpointLanguageModel(url, apiKey string) *EndpointLanguageModel {
	return &EndpointLanguageModel{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type completionRequest struct {
	Text string `json:"text"`
}

type completionResponse struct {
	Response string `json:"response"`
}

func (e *EndpointLanguageModel) Complete(
	ctx context.Context,
	text string,
) (string, error) {
	body, err := json.Marshal(completionRequest{Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.APIKey))
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf(
			"unexpected status code: %d, response body: %s",
			resp.StatusCode,
			strings.TrimSpace(string(detail)),
		)
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", ErrEmptyResponse
	}
	return result.Response, nil
}
