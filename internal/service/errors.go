package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an actor acting outside their permissions or outside a permitted phase.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrInvalidBranch marks a build result reported for a branch that is not graded.
	ErrInvalidBranch = errors.New("invalid branch")
	// ErrLockLimitExceeded marks a tutor holding too many unfinished assessments.
	ErrLockLimitExceeded = errors.New("lock limit exceeded")
)

var (
	ErrExerciseNotFound         = fmt.Errorf("exercise %w", ErrNotFound)
	ErrParticipationNotFound    = fmt.Errorf("participation %w", ErrNotFound)
	ErrSubmissionNotFound       = fmt.Errorf("submission %w", ErrNotFound)
	ErrResultNotFound           = fmt.Errorf("result %w", ErrNotFound)
	ErrComplaintNotFound        = fmt.Errorf("complaint %w", ErrNotFound)
	ErrSubmissionPolicyNotFound = fmt.Errorf("submission policy %w", ErrNotFound)
	ErrNoSubmissionAvailable    = fmt.Errorf("submission without assessment %w", ErrNotFound)
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match the error with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
