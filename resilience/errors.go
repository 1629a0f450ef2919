// Package resilience wraps fallible AI-provider operations with bounded
// retries, exponential backoff, and per-provider rate limiting.
//
// Failures are classified into three retryable kinds (rate limiting,
// server-side errors, and network errors); everything else is fatal and
// propagates immediately. The wrapped operation must be safe to repeat; the
// package makes no attempt to deduplicate side effects across attempts.
package resilience

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is wrapped into the error returned when every attempt
// of a retryable operation has failed.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// RateLimitError signals that the remote throttled the request
// (HTTP 429 or a provider-specific rate message). Always retryable.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

// ServerError signals a server-side (5xx) failure. Always retryable.
type ServerError struct {
	Err error
}

func (e *ServerError) Error() string { return fmt.Sprintf("server error: %v", e.Err) }
func (e *ServerError) Unwrap() error { return e.Err }

// NetworkError signals a connection or timeout failure reaching the remote.
// Always retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether an error belongs to one of the retryable kinds.
// Unclassified errors (auth failures, malformed requests, programming
// errors) are fatal and must not be retried.
func Retryable(err error) bool {
	var rl *RateLimitError
	var srv *ServerError
	var net *NetworkError
	return errors.As(err, &rl) || errors.As(err, &srv) || errors.As(err, &net)
}

// ErrorKind names an error's class for metrics attributes.
func ErrorKind(err error) string {
	var rl *RateLimitError
	var srv *ServerError
	var net *NetworkError
	switch {
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.As(err, &srv):
		return "server"
	case errors.As(err, &net):
		return "network"
	default:
		return "other"
	}
}

// ClassifyHTTPStatus maps an HTTP status code onto the error taxonomy.
// Statuses outside the retryable ranges come back unchanged, so they stay
// fatal.
func ClassifyHTTPStatus(status int, err error) error {
	switch {
	case status == 429:
		return &RateLimitError{Err: err}
	case status >= 500:
		return &ServerError{Err: err}
	default:
		return err
	}
}
