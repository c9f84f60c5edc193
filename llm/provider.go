package llm

import (
	"context"
	"fmt"
)

// New builds the language model named by provider.
func New(ctx context.Context, provider string, opts Options) (LanguageModel, error) {
	switch provider {
	case "", "openai":
		return NewOpenAILanguageModel(opts)
	case "gemini":
		return NewGeminiLanguageModel(ctx, opts)
	case "endpoint":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("endpoint language model needs a url")
		}
		return NewEndpointLanguageModel(opts.Endpoint, opts.APIKey), nil
	}
	return nil, fmt.Errorf("unknown language model provider %q", provider)
}
