// Package llm routes inference requests between the metered provider and the
// free local fallback, metering cost and grading the circuit breaker on the
// way through.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a metered call. The fallback provider
// returns no usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of one provider invocation.
type Response struct {
	Content string
	Model   string
	Usage   *Usage
}

// Provider is a backend model endpoint.
type Provider interface {
	// Model returns the model identifier used for cost tagging.
	Model() string

	// Invoke performs one chat completion.
	Invoke(ctx context.Context, messages []Message) (*Response, error)
}

// ProviderError wraps a failed provider call so callers can distinguish
// inference failures from storage failures.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
