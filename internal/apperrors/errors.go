// Package apperrors defines the error taxonomy shared across the core.
// Only ErrNotFound, ErrValidation, ErrInvalidTransition and ErrDeleteRefused
// ever reach API callers; tier and loading failures are absorbed by the
// generation dispatcher.
package apperrors

import "errors"

var (
	// ErrNotFound reports an unknown job, dataset, session or user.
	ErrNotFound = errors.New("record not found")

	// ErrValidation reports malformed input, such as a session bound to
	// both a job and a remote model.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition reports an illegal job state change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDeleteRefused reports an attempt to delete a running job.
	ErrDeleteRefused = errors.New("job is running and cannot be deleted")

	// ErrTierUnavailable reports that one generation tier cannot execute.
	// It is always recovered by falling through to the next tier.
	ErrTierUnavailable = errors.New("generation tier unavailable")

	// ErrLoadTimeout reports that a model or tokenizer load exceeded its
	// budget. Callers treat it as tier unavailability, not a fatal error.
	ErrLoadTimeout = errors.New("model load timed out")
)
