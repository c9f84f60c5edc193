package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// LanguageModel answers one utterance with one response.
type LanguageModel interface {
	Complete(ctx context.Context, text string) (string, error)
}

var (
	ErrMissingKey    = errors.New("missing language model api key")
	ErrEmptyResponse = errors.New("language model returned no content")
)

const DefaultSystemPrompt = "You are a voice assistant. " +
	"Answer in one or two short spoken sentences. " +
	"Do not use markdown, lists, or emoji."

type Options struct {
	APIKey       string
	Model        string
	Endpoint     string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

func (o Options) systemPrompt() string {
	if o.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return o.SystemPrompt
}

type OpenAILanguageModel struct {
	client *openai.Client
	opts   Options
}

func NewOpenAILanguageModel(opts Options) (*OpenAILanguageModel, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingKey
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4o
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 300
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.Endpoint != "" {
		config.BaseURL = opts.Endpoint
	}

	return &OpenAILanguageModel{
		client: openai.NewClientWithConfig(config),
		opts:   opts,
	}, nil
}

func (o *OpenAILanguageModel) Complete(
	ctx context.Context,
	text string,
) (string, error) {
	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       o.opts.Model,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: o.opts.systemPrompt(),
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
