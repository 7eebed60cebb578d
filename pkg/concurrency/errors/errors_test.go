package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrLockTimeout, "LockTimeout"},
		{ErrDeadlock, "Deadlock"},
		{ErrInvariantViolation, "InvariantViolation"},
		{ErrInvalidDatabaseName, "InvalidDatabaseName"},
		{ErrInvalidRelock, "InvalidRelock"},
		{ErrLocksHeld, "LocksHeld"},
		{ErrNotLocked, "NotLocked"},
		{ErrorCode(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
}

func TestLockError_Error(t *testing.T) {
	t.Parallel()

	err := NewTimeoutError("{1: Global}")
	assert.Equal(t, "LockTimeout: unable to acquire lock within timeout (resource: {1: Global})", err.Error())

	err = NewLocksHeldError(2)
	assert.Equal(t, "LocksHeld: 2 resource(s) still held", err.Error())
}

func TestLockError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("acquire global: %w", NewTimeoutError("global"))

	assert.True(t, stderrors.Is(wrapped, Timeout))
	assert.False(t, stderrors.Is(wrapped, Deadlock))
	assert.True(t, IsTimeoutError(wrapped))
	assert.False(t, IsDeadlockError(wrapped))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrDeadlock, CodeOf(NewDeadlockError("db")))
	assert.Equal(t, ErrInvariantViolation, CodeOf(NewInvariantError("count %d", 3)))
	assert.Equal(t, ErrorCode(0), CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(0), CodeOf(nil))
	assert.True(t, IsInvariantError(NewInvariantError("boom")))
}
