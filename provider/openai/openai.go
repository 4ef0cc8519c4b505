package openai_provider

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
)

// client implements chat completion using the OpenAI SDK
type client struct {
	api         openaigo.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *log.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64, maxTokens, maxRetries int, timeout time.Duration) *client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")),
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(maxRetries),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &client{
		api:         openaigo.NewClient(opts...),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

// Chat sends one system+user exchange and returns the first choice's content
func (c *client) Chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	var messages []openaigo.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(system); s != "" {
		messages = append(messages, openaigo.SystemMessage(s))
	}
	messages = append(messages, openaigo.UserMessage(user))

	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = param.NewOpt(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}
	if jsonMode {
		params.ResponseFormat = openaigo.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	c.logger.Printf("model=%s json=%t tokens=%d took=%s", c.model, jsonMode, resp.Usage.TotalTokens, time.Since(start).Round(time.Millisecond))
	return resp.Choices[0].Message.Content, nil
}
