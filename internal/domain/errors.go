package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrTooEarly        = errors.New("check-in not open yet")
	ErrTooLate         = errors.New("check-in window missed")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrentModification is returned by the store when a conditional
	// update matched no row.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// StateError reports an operation refused because of the booking's current status.
type StateError struct {
	Op     string
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: booking is %s", e.Op, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// NewStateError builds the refusal for op given the current status.
func NewStateError(op, status string) error {
	return &StateError{Op: op, Status: status}
}
