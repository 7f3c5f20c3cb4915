package tts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAPIKey is returned when the synthesizer has no API key.
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrNoVoiceID is returned when the synthesizer has no voice.
	ErrNoVoiceID = errors.New("tts: voice ID required")

	// ErrEmptyAudio is returned when the API answered without audio.
	ErrEmptyAudio = errors.New("tts: empty audio")

	// ErrPlayerClosed is returned by Play after Close.
	ErrPlayerClosed = errors.New("tts: player closed")
)

// APIError represents an error response from a TTS API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limiting and server-side errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable is the retry predicate for synthesizer calls.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, ErrNoAPIKey) && !errors.Is(err, ErrNoVoiceID) && !errors.Is(err, ErrEmptyAudio)
}
