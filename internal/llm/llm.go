package llm

import (
	"context"
	"errors"
	"time"
)

// Message roles understood by chat-completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = errors.New("llm: client not configured")
	// ErrEmptyResponse is returned when the provider answered without any choices.
	ErrEmptyResponse = errors.New("llm: no choices in response")
)

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Params are the sampling parameters for a single completion.
type Params struct {
	// Operation labels the request in logs and metrics (e.g. "classify_spam").
	Operation   string
	Temperature float32
	MaxTokens   int
}

// Client defines the interface for LLM providers.
//
// Implementations must honor ctx and bound every call with their own timeout;
// callers treat any error as a failed inference and fall back.
type Client interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
}

// ObserveFunc receives the outcome of every completion made through an
// instrumented client.
type ObserveFunc func(operation string, elapsed time.Duration, err error)

type instrumented struct {
	next    Client
	observe ObserveFunc
}

// Instrument wraps c so that every completion is reported to observe.
func Instrument(c Client, observe ObserveFunc) Client {
	if observe == nil {
		return c
	}
	return &instrumented{next: c, observe: observe}
}

func (i *instrumented) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	start := time.Now()
	out, err := i.next.Complete(ctx, messages, params)
	i.observe(params.Operation, time.Since(start), err)
	return out, err
}
