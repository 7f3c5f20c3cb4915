package routing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRoute means the router answered but found no usable route.
	ErrNoRoute = errors.New("no route found")
	// ErrInvalidCoordinate rejects a request before it reaches the router.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// StatusError is returned for a non-200 response from the router.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("osrm returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("osrm returned status %d", e.StatusCode)
}

// IsRetryable reports whether the request may succeed if sent again.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable is the retry predicate for router calls.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsRetryable()
	}
	if errors.Is(err, ErrNoRoute) || errors.Is(err, ErrInvalidCoordinate) {
		return false
	}
	return true
}
