package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 3 * time.Second
)

// OpenAIClient implements the Client interface using OpenAI's chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // Optional, for OpenAI-compatible gateways
	Model   string        // e.g., "gpt-4o-mini"
	Timeout time.Duration // Upper bound for a single completion

	HTTPClient *http.Client // Optional shared client
}

// NewOpenAIClient creates a new OpenAI client. An empty API key yields a client
// whose Complete always fails with ErrNotConfigured, so callers fall back.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &OpenAIClient{model: model, timeout: timeout}
	if cfg.APIKey == "" {
		return c
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	c.client = openai.NewClientWithConfig(clientCfg)
	return c
}

// Model returns the model used for completions.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends a non-streaming chat completion and returns the trimmed text of
// the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	temperature := params.Temperature
	if temperature == 0 {
		// go-openai drops a zero temperature (omitempty); send the smallest
		// non-zero value so deterministic requests stay deterministic.
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: chat completion: %w", operationName(params), err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func operationName(p Params) string {
	if p.Operation == "" {
		return "completion"
	}
	return p.Operation
}
