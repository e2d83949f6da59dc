// Package llm defines the contract between the processing pipeline and the
// model providers: chat completion, embedding generation, and error
// classification for retry decisions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoProvider is returned by the registry when no adapter claims a model.
var ErrNoProvider = errors.New("no provider registered for model")

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a chat-completion provider adapter.
type Client interface {
	ID() string
	Chat(ctx context.Context, model string, msgs []Message) (string, error)
	ClassifyError(err error) *ClassifiedError
}

// Embedder is an embedding provider adapter.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

// StatusError captures an HTTP status code from a provider response.
// Used by adapters to return structured errors that ClassifyError can inspect.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses a Retry-After header value in seconds. Invalid or
// empty values leave RetryAfterSecs at zero.
func (e *StatusError) ParseRetryAfter(v string) {
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// ErrorClass classifies provider errors for retry decisions.
type ErrorClass string

const (
	ErrContextOverflow ErrorClass = "context_overflow"
	ErrRateLimited     ErrorClass = "rate_limited"
	ErrTransient       ErrorClass = "transient"
	ErrFatal           ErrorClass = "fatal"
)

// ClassifiedError wraps an error with its retry classification.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable reports whether the error class warrants another attempt.
func (e *ClassifiedError) Retryable() bool {
	return e.Class == ErrTransient || e.Class == ErrRateLimited
}
