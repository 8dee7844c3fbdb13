// Package llm talks to completion providers and counts tokens.
package llm

import (
	"context"

	"github.com/pkg/errors"
)

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role    string
	Content string
}

type Request struct {
	// System is the instruction preamble.
	System   string
	Messages []Message
	Model    string
	// OnToken, when set, receives the completion incrementally. Returning an
	// error aborts the completion.
	OnToken func(ctx context.Context, token string) error
}

type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	// UsageReported is false when the provider did not say how many tokens
	// it accounted; callers then count them themselves.
	UsageReported bool
}

// Provider is a black-box completion service.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "openai", "anthropic" or "fake".
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// New creates the provider named by cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	case "fake", "":
		return NewFake(), nil
	default:
		return nil, errors.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
