package rest

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrEmptyToken indicates token_env names a variable that is unset or empty.
var ErrEmptyToken = errors.New("rest: bearer token environment variable is empty")

// RateLimitError represents a throttled response (429, or 503 with
// Retry-After) and its retry hint.
type RateLimitError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration
	Remaining  int
	Limit      int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rest: rate limit exceeded, retry after %s (URL: %s)", e.RetryAfter, e.URL)
}

// HTTPStatus returns the throttling status, 429 when unset.
func (e *RateLimitError) HTTPStatus() int {
	if e.StatusCode == 0 {
		return http.StatusTooManyRequests
	}
	return e.StatusCode
}

// APIError represents a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// HTTPStatus returns the response status.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsNotFound checks if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
	}
	return false
}

// IsRateLimited checks if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsServerError checks if the error is a 5xx response.
func IsServerError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}

// RetryAfterHint lets retry loops honour the upstream's Retry-After.
func (e *RateLimitError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}
