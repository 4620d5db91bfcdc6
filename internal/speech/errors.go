package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEngines indicates the facade was built without backends.
	ErrNoEngines = errors.New("no speech backends configured")

	// ErrBackendFailed wraps every single-backend failure.
	ErrBackendFailed = errors.New("speech backend failed")

	// ErrExhausted indicates every backend failed for one text.
	ErrExhausted = errors.New("all speech backends failed")

	// ErrUndersized indicates a backend produced no file or one too small to
	// hold audio.
	ErrUndersized = errors.New("audio output too small")

	// ErrUnavailable indicates a backend cannot run here (missing binary or
	// credentials).
	ErrUnavailable = errors.New("speech backend unavailable")
)

// AttemptError describes why one backend attempt was rejected.
type AttemptError struct {
	Backend string
	Reason  ReasonCode
	Cause   error
}

func (e *AttemptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Reason)
}

// Unwrap exposes both the cause and ErrBackendFailed.
func (e *AttemptError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBackendFailed}
	}
	return []error{ErrBackendFailed, e.Cause}
}

// IsRetryable reports whether trying the same backend again may help.
func (e *AttemptError) IsRetryable() bool {
	return e.Reason == ReasonTimeout
}
