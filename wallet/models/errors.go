package models

import (
	"errors"
	"fmt"
)

// Error kinds returned by wallet operations. Test with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrPersistence       = errors.New("persistence error")
)

// OperationError is a rejected operation. No state was changed.
type OperationError struct {
	Op     string
	Kind   error
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Reason)
}

func (e *OperationError) Unwrap() error { return e.Kind }

func newOpError(op string, kind error, format string, args ...any) *OperationError {
	return &OperationError{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newOpError(op, ErrValidation, format, args...)
}

func InsufficientFunds(op, format string, args ...any) error {
	return newOpError(op, ErrInsufficientFunds, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newOpError(op, ErrNotFound, format, args...)
}

func InvalidState(op, format string, args ...any) error {
	return newOpError(op, ErrInvalidState, format, args...)
}

// PersistenceError reports a backend write that failed after the in-memory
// commit. The write stays queued.
type PersistenceError struct {
	Pending int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %d pending writes: %v", ErrPersistence, e.Pending, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind returns the taxonomy sentinel of err, or nil when err is not a wallet error.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrInsufficientFunds, ErrNotFound, ErrInvalidState, ErrPersistence} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Reason returns the user facing reason of an OperationError, or err.Error().
func Reason(err error) string {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return err.Error()
}
