package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a completion carries no choices.
var ErrEmptyResponse = errors.New("completion returned no choices")

// APIError is any non-2xx response other than a rate limit.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reasoning service returned %d: %s", e.StatusCode, e.Body)
}

// RateLimitError is a 429 response together with the headers that say when
// to try again.
type RateLimitError struct {
	RetryAfter    string // retry-after
	ResetRequests string // x-ratelimit-reset-requests
	Body          string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("reasoning service rate limited (%d): %s", http.StatusTooManyRequests, e.Body)
}

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
