package provider

import (
	"context"
	"errors"
	"time"

	openai_provider "github.com/orca-live/orcad/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider creates a new LLM client for the given provider type.
func NewProvider(client Client, apiKey, model string, timeout time.Duration) (Provider, error) {
	switch client {
	case OpenAI:
		if apiKey == "" {
			return nil, errors.New("openai api key not set")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		return openai_provider.NewOpenAIClient(apiKey, model, 0.0, 16, timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
