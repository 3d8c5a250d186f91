package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("invalid task input")
	ErrOutOfRange   = errors.New("task position out of range")
	ErrNotFound     = errors.New("task not found")
	ErrDelivery     = errors.New("reminder delivery failed")
	ErrPersistence  = errors.New("task store unavailable")
	ErrNoRecurrence = errors.New("task does not recur")
)

// ValidationError describes a rejected Create input. The front-end re-prompts
// for Field; errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RangeError is returned by Delete for a position outside 1..Count.
type RangeError struct {
	Position int
	Count    int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("position %d not in 1..%d", e.Position, e.Count)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
