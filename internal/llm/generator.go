// Package llm wraps text generation via langchaingo.
//
// The pipeline stages depend on a single Generator interface: one system
// prompt, a message history, a temperature, and a text completion back.
// Transport and provider failures are surfaced as classified sentinel
// errors so callers can map them onto the workflow fault taxonomy.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized indicates an authentication or permission failure.
	// These do not resolve by retrying.
	ErrUnauthorized = errors.New("llm: unauthorized")

	// ErrRateLimited indicates the provider rejected the call for quota
	// or rate-limit reasons.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrUnavailable indicates the provider is temporarily unavailable.
	ErrUnavailable = errors.New("llm: service unavailable")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("llm: timeout")

	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat exchange sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Generator produces a text completion for a prompt.
//
// Implementations must respect ctx cancellation and return one of the
// package sentinel errors (wrapped) for classifiable failures.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, messages []Message, temperature float64) (string, error)
}
