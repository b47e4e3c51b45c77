package clickup

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("clickup: not found")
	ErrUnauthorized = errors.New("clickup: unauthorized")
	ErrNoTeam       = errors.New("clickup: no team available for token")
	ErrInvalidReply = errors.New("clickup: invalid response")
)

// APIError is a non-2xx reply from the remote API.
type APIError struct {
	StatusCode int
	Route      string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("clickup %s: status %d: %s", e.Route, e.StatusCode, body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryExhaustedError is returned once every attempt on a transient
// failure has been used up.
type RetryExhaustedError struct {
	Route    string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("clickup %s: gave up after %d attempts: %v", e.Route, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func (e *RetryExhaustedError) Retryable() bool { return true }

// IsRetryable reports whether err is a transient failure a caller may try
// again later.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
