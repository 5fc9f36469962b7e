package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrInsufficient     = errors.New("insufficient credits")
	ErrTransient        = errors.New("transient failure")
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrRefundPending accompanies ErrSubmissionFailed when the compensating
	// refund did not go through yet.
	ErrRefundPending = errors.New("refund pending")
	ErrDuplicateJob     = errors.New("duplicate job")
)

// InsufficientCreditsError reports a rejected reservation.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficient
}

// ValidationError reports caller input that must be fixed before resubmitting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
