package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when no API credential is set.
var ErrNotConfigured = errors.New("upstream credential not configured")

// APIError is a non-success response from the completion service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is worth another connection attempt.
// Client-side mistakes (4xx other than 429) are not.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StreamError is a terminal mid-stream failure. Streams are never resumed;
// the caller degrades to a fallback reply instead.
type StreamError struct {
	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream terminated: %v", e.Cause)
}

func (e *StreamError) Unwrap() error { return e.Cause }
