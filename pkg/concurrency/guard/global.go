// Package guard provides scoped acquisition wrappers over a lock.Locker.
//
// Each wrapper acquires on construction and releases exactly once through
// Unlock, which is idempotent. Wrappers encode the acquisition hierarchy:
// a DBLock takes the Global intent lock first, and a CollectionLock can only
// be built from a live DBLock.
//
// Typical use:
//
//	db, err := guard.NewDBLock(ctx, locker, "inventory", lock.ModeIX)
//	if err != nil {
//	    return err
//	}
//	defer db.Unlock()
//
//	coll, err := guard.NewCollectionLock(ctx, db, "inventory.items", lock.ModeIX)
//	if err != nil {
//	    return err
//	}
//	defer coll.Unlock()
package guard

import (
	"context"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// ============================================================================
// Global Lock
// ============================================================================

// GlobalLock holds the Global resource.
//
// A GlobalLock built with EnqueueGlobalLock may still be pending: its request
// is queued but not granted until WaitForLock succeeds.
type GlobalLock struct {
	locker *lock.Locker
	mode   lock.Mode

	held    bool
	pending bool
	err     error
}

// NewGlobalLock acquires Global in mode, waiting up to timeout (ticket
// admission included). Check IsLocked or Err for the outcome.
func NewGlobalLock(ctx context.Context, l *lock.Locker, mode lock.Mode, timeout time.Duration) *GlobalLock {
	g := &GlobalLock{locker: l, mode: mode}

	if err := l.LockGlobal(ctx, mode, timeout); err != nil {
		g.fail(ctx, err, timeout)
		return g
	}
	g.held = true
	return g
}

// EnqueueGlobalLock takes a ticket if needed and queues the Global request
// without waiting for the grant. timeout bounds ticket admission only; call
// WaitForLock to block for the lock itself.
func EnqueueGlobalLock(ctx context.Context, l *lock.Locker, mode lock.Mode, timeout time.Duration) *GlobalLock {
	g := &GlobalLock{locker: l, mode: mode}

	st, err := l.LockGlobalBegin(ctx, mode, timeout)
	switch {
	case err != nil:
		g.fail(ctx, err, timeout)
	case st == lock.StatusGranted:
		g.held = true
	default:
		g.pending = true
	}
	return g
}

// NewGlobalRead acquires Global in S.
func NewGlobalRead(ctx context.Context, l *lock.Locker, timeout time.Duration) *GlobalLock {
	return NewGlobalLock(ctx, l, lock.ModeS, timeout)
}

// NewGlobalWrite acquires Global in X.
func NewGlobalWrite(ctx context.Context, l *lock.Locker, timeout time.Duration) *GlobalLock {
	return NewGlobalLock(ctx, l, lock.ModeX, timeout)
}

// WaitForLock blocks until a pending request is granted or timeout elapses.
// On failure the request is withdrawn and the error is also kept in Err.
func (g *GlobalLock) WaitForLock(ctx context.Context, timeout time.Duration) error {
	if !g.pending {
		return g.err
	}
	g.pending = false

	if err := g.locker.LockGlobalComplete(ctx, timeout); err != nil {
		g.fail(ctx, err, timeout)
		return err
	}
	g.held = true
	return nil
}

// IsLocked reports whether the lock is granted and not yet released.
func (g *GlobalLock) IsLocked() bool {
	return g.held
}

// IsPending reports whether the request is queued but not granted.
func (g *GlobalLock) IsPending() bool {
	return g.pending
}

// Err returns the acquisition error, if any.
func (g *GlobalLock) Err() error {
	return g.err
}

// Mode returns the requested mode.
func (g *GlobalLock) Mode() lock.Mode {
	return g.mode
}

// Unlock releases the lock, or withdraws a pending request. Safe to call
// more than once.
func (g *GlobalLock) Unlock() {
	if g.pending {
		g.pending = false
		// A zero timeout abandons the request unless it was granted meanwhile.
		if err := g.locker.LockGlobalComplete(context.Background(), 0); err != nil {
			return
		}
		g.held = true
	}
	if !g.held {
		return
	}
	g.held = false
	g.locker.UnlockGlobal()
}

func (g *GlobalLock) fail(ctx context.Context, err error, timeout time.Duration) {
	g.err = err
	logger.DebugCtx(ctx, "Global lock not acquired",
		logger.LockerID(uint64(g.locker.ID())),
		logger.LockMode(g.mode.String()),
		logger.TimeoutMs(timeout),
		logger.Err(err))
}

// defaultTimeout is the timeout used by wrappers that take none.
func defaultTimeout(l *lock.Locker) time.Duration {
	cfg := l.Manager().Config()
	return cfg.EffectiveDefaultTimeout()
}
