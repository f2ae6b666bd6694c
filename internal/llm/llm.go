// Package llm holds the narrow contracts the pipeline uses to talk to reasoning,
// search and chat model providers, plus their eino-backed implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when a provider is selected without credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// CompletionRequest is one prompt/response round trip.
type CompletionRequest struct {
	System         string
	Prompt         string
	MaxTokens      int
	ThinkingBudget int      // extended thinking budget; 0 disables thinking
	Temperature    *float32 // nil keeps the provider default
}

// Completion is the raw text a provider returned plus its usage accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Provider     string
	Model        string
}

// TotalTokens is input plus output tokens.
func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Completer is implemented by every model backend. Transport failures and non-2xx
// responses come back as errors; malformed content is the caller's concern.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying. Auth and request-shape
// errors will fail the same way on every attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return true
}

// Float32 returns a pointer to v for optional request fields.
func Float32(v float32) *float32 { return &v }
