package screening

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyName is returned for an empty or whitespace-only supplier name.
	ErrEmptyName = errors.New("screening: supplier name is empty")

	// ErrInvariantViolation marks a structurally invalid intermediate value.
	ErrInvariantViolation = errors.New("screening: invariant violation")
)

// InputError rejects malformed input before any matching happens.
type InputError struct {
	Field string
	Value string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// InvariantError reports a defect in a pipeline stage.
type InvariantError struct {
	Entity string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvariantViolation, e.Entity, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }
