package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("invalid input")
	ErrAlreadyActive = errors.New("already active")
	ErrAlreadyVoted  = errors.New("already voted")
	ErrVoteClosed    = errors.New("vote closed")
	ErrNoPrivileges  = errors.New("not enough rights")
)

// EnforcementError marks a failure of a side effect on the chat platform,
// as opposed to a store failure. Persistence is never attempted after one.
type EnforcementError struct {
	Op  string
	Err error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforcement %s: %v", e.Op, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}

func Enforcement(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EnforcementError{Op: op, Err: err}
}

// StoreError marks a persistence failure. Callers may retry these.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
