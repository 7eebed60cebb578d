// Package errors provides error types and error codes for the concurrency packages.
// This is a leaf package with no internal dependencies, imported by both the
// lock manager and the scoped guard wrappers.
//
// Import graph: errors <- lock <- guard
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrLockTimeout indicates an acquisition (or ticket admission) did not
	// succeed before its timeout. No waiter state is left behind.
	ErrLockTimeout ErrorCode = iota + 1

	// ErrDeadlock indicates the request was part of a wait-for cycle and was
	// cancelled.
	ErrDeadlock

	// ErrInvariantViolation indicates a programming error in the caller, such as
	// closing a Locker that still holds resources.
	ErrInvariantViolation

	// ErrInvalidDatabaseName indicates an empty database name or one containing '.'.
	ErrInvalidDatabaseName

	// ErrInvalidRelock indicates a relock that would weaken isolation in place,
	// such as moving a shared database lock to an exclusive mode.
	ErrInvalidRelock

	// ErrLocksHeld indicates resources are still held when they must not be.
	ErrLocksHeld

	// ErrNotLocked indicates the operation requires a lock that is not held.
	ErrNotLocked
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrLockTimeout:
		return "LockTimeout"
	case ErrDeadlock:
		return "Deadlock"
	case ErrInvariantViolation:
		return "InvariantViolation"
	case ErrInvalidDatabaseName:
		return "InvalidDatabaseName"
	case ErrInvalidRelock:
		return "InvalidRelock"
	case ErrLocksHeld:
		return "LocksHeld"
	case ErrNotLocked:
		return "NotLocked"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// LockError represents a lock subsystem error with an error code.
type LockError struct {
	Code     ErrorCode
	Message  string
	Resource string
}

// Error implements the error interface.
func (e *LockError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (resource: %s)", e.Code, e.Message, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a *LockError carrying the same code, so callers
// can compare against the sentinel values below with errors.Is.
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	Timeout            = &LockError{Code: ErrLockTimeout, Message: "lock timeout"}
	Deadlock           = &LockError{Code: ErrDeadlock, Message: "deadlock detected"}
	InvariantViolation = &LockError{Code: ErrInvariantViolation, Message: "invariant violation"}
)

// ============================================================================
// Factory Functions
// ============================================================================

// NewTimeoutError creates a LockTimeout error for the given resource.
func NewTimeoutError(resource string) *LockError {
	return &LockError{
		Code:     ErrLockTimeout,
		Message:  "unable to acquire lock within timeout",
		Resource: resource,
	}
}

// NewTicketTimeoutError creates a LockTimeout error for ticket admission.
func NewTicketTimeoutError() *LockError {
	return &LockError{
		Code:    ErrLockTimeout,
		Message: "unable to obtain a ticket within timeout",
	}
}

// NewDeadlockError creates a Deadlock error for the given resource.
func NewDeadlockError(resource string) *LockError {
	return &LockError{
		Code:     ErrDeadlock,
		Message:  "deadlock detected",
		Resource: resource,
	}
}

// NewInvariantError creates an InvariantViolation error.
func NewInvariantError(format string, args ...any) *LockError {
	return &LockError{
		Code:    ErrInvariantViolation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewInvalidDatabaseNameError creates an InvalidDatabaseName error.
func NewInvalidDatabaseNameError(db string) *LockError {
	return &LockError{
		Code:     ErrInvalidDatabaseName,
		Message:  "invalid database name",
		Resource: db,
	}
}

// NewInvalidRelockError creates an InvalidRelock error.
func NewInvalidRelockError(resource, from, to string) *LockError {
	return &LockError{
		Code:     ErrInvalidRelock,
		Message:  fmt.Sprintf("cannot relock from %s to %s", from, to),
		Resource: resource,
	}
}

// NewLocksHeldError creates a LocksHeld error.
func NewLocksHeldError(count int) *LockError {
	return &LockError{
		Code:    ErrLocksHeld,
		Message: fmt.Sprintf("%d resource(s) still held", count),
	}
}

// NewNotLockedError creates a NotLocked error.
func NewNotLockedError(resource string) *LockError {
	return &LockError{
		Code:     ErrNotLocked,
		Message:  "resource is not locked",
		Resource: resource,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the ErrorCode carried by err, or 0 if err is not a *LockError.
func CodeOf(err error) ErrorCode {
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return lockErr.Code
	}
	return 0
}

// IsTimeoutError returns true if the error is a LockTimeout error.
func IsTimeoutError(err error) bool {
	return CodeOf(err) == ErrLockTimeout
}

// IsDeadlockError returns true if the error indicates a deadlock.
func IsDeadlockError(err error) bool {
	return CodeOf(err) == ErrDeadlock
}

// IsInvariantError returns true if the error is an invariant violation.
func IsInvariantError(err error) bool {
	return CodeOf(err) == ErrInvariantViolation
}
