// Package provider implements the AI provider clients used to extract and
// normalize recipe data. Every provider speaks an OpenAI-compatible
// chat-completions API over HTTP, and every call runs inside the resilience
// layer: a per-provider rate limiter plus classified retry with backoff.
//
// Provider calls never touch the disk storage tier; only the fetch layer
// persists content.
package provider

import "context"

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider's short name for logs and metrics.
	Name() string

	// CompleteChat sends a chat conversation and returns the assistant's
	// reply content.
	CompleteChat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error)
}

// ChatOption adjusts a single chat call.
type ChatOption func(*chatOptions)

type chatOptions struct {
	maxTokens   int
	temperature *float64
}

// WithMaxTokens overrides the provider's default completion budget.
func WithMaxTokens(n int) ChatOption {
	return func(o *chatOptions) { o.maxTokens = n }
}

// WithTemperature overrides the provider's default sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *chatOptions) { o.temperature = &t }
}
