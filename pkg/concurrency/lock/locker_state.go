package lock

import (
	"context"
	"sort"

	"github.com/marmos91/dittolock/internal/logger"
	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
)

// SavedLock is one non-Global resource recorded by SaveLockStateAndUnlock.
type SavedLock struct {
	Resource       ResourceID `json:"resource"`
	Mode           Mode       `json:"mode"`
	RecursiveCount int        `json:"recursive_count"`
}

// LockSnapshot is the lock state released by SaveLockStateAndUnlock.
// Locks are ordered by resource id, which is the acquisition order.
type LockSnapshot struct {
	GlobalMode Mode        `json:"global_mode"`
	Locks      []SavedLock `json:"locks"`
}

// SaveLockStateAndUnlock releases everything the locker holds (except named
// mutexes) and returns what is needed to re-acquire it.
//
// Returns false, releasing nothing, if Global is not held or is held more
// than once: a recursively held Global means an outer scope relies on the
// locks staying in place.
func (l *Locker) SaveLockStateAndUnlock() (*LockSnapshot, bool) {
	global := l.find(ResourceIDGlobal)
	if global == nil {
		return nil, false
	}
	st := global.State()
	if st.Status != StatusGranted || st.RecursiveCount > 1 {
		return nil, false
	}

	snap := &LockSnapshot{GlobalMode: st.Mode}

	// Gather the other resources before releasing Global, so that the
	// mirrored flush lock is not mistaken for a user lock.
	l.mu.Lock()
	held := make(map[ResourceID]*Request, len(l.requests))
	for resID, req := range l.requests {
		t := resID.Type()
		if t == ResourceGlobal || t == ResourceMutex || (l.mirrorFlush && t == ResourceFlush) {
			continue
		}
		held[resID] = req
	}
	l.mu.Unlock()

	for resID, req := range held {
		rs := req.State()
		snap.Locks = append(snap.Locks, SavedLock{
			Resource:       resID,
			Mode:           rs.Mode,
			RecursiveCount: rs.RecursiveCount,
		})
		for !l.unlockRequest(resID, req) {
		}
	}

	if !l.UnlockGlobal() {
		panic(lockerrors.NewInvariantError("locker %d failed to release Global while saving lock state", l.id))
	}

	sort.Slice(snap.Locks, func(i, j int) bool {
		return snap.Locks[i].Resource < snap.Locks[j].Resource
	})

	logger.Debug("Saved lock state",
		logger.LockerID(uint64(l.id)),
		logger.LockMode(snap.GlobalMode.String()),
		logger.Count(len(snap.Locks)))
	return snap, true
}

// RestoreLockState re-acquires a snapshot with no timeout, Global first and
// then every other resource in id order. Failure to re-acquire is a fatal
// invariant violation and panics. Cancellation of ctx is ignored.
func (l *Locker) RestoreLockState(ctx context.Context, snap *LockSnapshot) {
	ctx = context.WithoutCancel(ctx)

	if err := l.LockGlobal(ctx, snap.GlobalMode, InfiniteTimeout); err != nil {
		panic(lockerrors.NewInvariantError("locker %d failed to restore Global %s: %v", l.id, snap.GlobalMode, err))
	}

	for _, saved := range snap.Locks {
		for i := 0; i < saved.RecursiveCount; i++ {
			if err := l.Lock(ctx, saved.Resource, saved.Mode, InfiniteTimeout); err != nil {
				panic(lockerrors.NewInvariantError("locker %d failed to restore %s %s: %v",
					l.id, saved.Resource, saved.Mode, err))
			}
		}
	}
}
