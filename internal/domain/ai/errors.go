package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTransient marks provider failures worth retrying.
var ErrTransient = errors.New("transient provider error")

var (
	// ErrRateLimited indicates HTTP 429 or similar throttling.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrTransient)
	// ErrOverloaded indicates the provider reported it is overloaded.
	ErrOverloaded = fmt.Errorf("%w: model overloaded", ErrTransient)
	// ErrUnavailable indicates HTTP 5xx.
	ErrUnavailable = fmt.Errorf("%w: service unavailable", ErrTransient)
)

// ErrQuotaExceeded indicates the AI provider account quota is exhausted. It
// is not retried, waiting does not help.
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("ai provider returned no content")

// IsTransient reports whether err should be retried. Errors not classified by
// the provider adapter fall back to matching the status text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") || strings.Contains(msg, "429") || strings.Contains(msg, "overloaded")
}

// AttemptError is a terminal analysis failure annotated with how many calls
// were made.
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("analysis failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }
