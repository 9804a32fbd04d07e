// Package errs defines the failure classes surfaced by validation runs.
//
// Every error returned from the validation pipeline matches exactly one of
// ErrInput, ErrModelInvocation, ErrPersistence or ErrConflict through
// errors.Is, while still unwrapping to its underlying cause.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInput covers empty requirement or test-case sets and malformed store
	// content. Never retried.
	ErrInput = errors.New("input error")

	// ErrModelInvocation covers embedding and entailment provider failures.
	ErrModelInvocation = errors.New("model invocation error")

	// ErrPersistence covers unreadable or unwritable stores.
	ErrPersistence = errors.New("persistence error")

	// ErrConflict is returned when the stores are busy with another run.
	ErrConflict = errors.New("conflict")
)

func Input(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Model(op string, err error) error {
	if errors.Is(err, ErrModelInvocation) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrModelInvocation, op, err)
}

// StoreError identifies which store failed and how.
type StoreError struct {
	Store string
	Op    string
	Path  string
	Err   error
}

func Store(store, op, path string, err error) error {
	return &StoreError{Store: store, Op: op, Path: path, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: failed to %s %s store %q: %v", ErrPersistence, e.Op, e.Store, e.Path, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Kind names the failure class of err for logs and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrModelInvocation):
		return "model_invocation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
