package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores and
// services to communicate domain-specific error conditions. Callers compare
// with errors.Is; concrete failures wrap one of these with %w.
// -----------------------------------------------------------------------------

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ErrTransient marks a storage failure that is safe to retry with backoff:
// timeouts, busy or locked databases, serialization conflicts.
var ErrTransient = errors.New("transient storage failure")

// ErrConsistency signals that persisted XP disagrees with the completion and
// achievement records backing it. It is a bug signal and is never repaired
// automatically.
var ErrConsistency = errors.New("consistency violation")

// User errors
var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrUserAlreadyExists = fmt.Errorf("user already exists: %w", ErrConflict)
)

// ErrNotPassed rejects a completion whose score is below PassThreshold. A
// failed evaluation never changes learner state.
var ErrNotPassed = fmt.Errorf("submission did not pass: %w", ErrValidation)

// Catalog errors
var (
	ErrChallengeNotFound   = fmt.Errorf("challenge %w", ErrNotFound)
	ErrAchievementNotFound = fmt.Errorf("achievement %w", ErrNotFound)
	ErrLevelNotFound       = fmt.Errorf("level %w", ErrNotFound)
)

// Validationf returns an error wrapping ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient wraps err so that IsRetryable reports true for it.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
