package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/mohammad-safakhou/meetingmind/config"
	openai_provider "github.com/mohammad-safakhou/meetingmind/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Request is a single prompt/response exchange.
type Request struct {
	System string
	Prompt string
	// JSON asks the model for a JSON object response.
	JSON bool
}

// Provider is the language-model collaborator: one request, one text response.
// Implementations may fail or time out; callers bound ctx.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type chatClient interface {
	Chat(ctx context.Context, system, user string, jsonMode bool) (string, error)
}

type chatProvider struct {
	client chatClient
}

func (p chatProvider) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("empty prompt")
	}
	return p.client.Chat(ctx, req.System, req.Prompt, req.JSON)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return chatProvider{client: openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.BaseURL,
			cfg.Model,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.MaxRetries,
			cfg.Timeout,
		)}, nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
