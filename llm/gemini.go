package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-flash"

type GeminiLanguageModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiLanguageModel(
	ctx context.Context,
	opts Options,
) (*GeminiLanguageModel, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingKey
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := opts.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	model := client.GenerativeModel(name)
	if opts.MaxTokens > 0 {
		model.GenerationConfig.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		model.GenerationConfig.SetTemperature(opts.Temperature)
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(opts.systemPrompt())},
	}

	return &GeminiLanguageModel{client: client, model: model}, nil
}

func (g *GeminiLanguageModel) Complete(
	ctx context.Context,
	text string,
) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	content := strings.TrimSpace(responseText(resp))
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (g *GeminiLanguageModel) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}
