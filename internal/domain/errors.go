package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrValidation              = errors.New("validation failed")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// TransitionError reports an unmet state precondition.
type TransitionError struct {
	Op     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Transition builds a *TransitionError.
func Transition(op, format string, args ...any) error {
	return &TransitionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports malformed input detected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnavailableError wraps a transient failure raised by the record store,
// membership oracle or mailer.
type UnavailableError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable during %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrCollaboratorUnavailable }

// Unavailable wraps err unless it is nil, already part of the taxonomy, or a
// not-found result.
func Unavailable(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return &UnavailableError{Collaborator: collaborator, Op: op, Err: err}
}
