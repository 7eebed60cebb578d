package guard

import (
	"context"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// TempRelease drops every lock a Locker holds (named mutexes excepted) and
// puts them back on Restore. If the locker cannot release, because Global
// is not held or is held recursively, both steps are no-ops.
type TempRelease struct {
	locker   *lock.Locker
	snapshot *lock.LockSnapshot
}

// NewTempRelease releases the locker's locks.
func NewTempRelease(l *lock.Locker) *TempRelease {
	tr := &TempRelease{locker: l}
	if snap, ok := l.SaveLockStateAndUnlock(); ok {
		tr.snapshot = snap
	}
	return tr
}

// Released reports whether locks were released and not yet restored.
func (tr *TempRelease) Released() bool {
	return tr.snapshot != nil
}

// Snapshot returns the saved lock state, or nil.
func (tr *TempRelease) Snapshot() *lock.LockSnapshot {
	return tr.snapshot
}

// Restore re-acquires the released locks without a timeout. A failure to
// restore is fatal and panics. Safe to call more than once.
func (tr *TempRelease) Restore(ctx context.Context) {
	if tr.snapshot == nil {
		return
	}
	snap := tr.snapshot
	tr.snapshot = nil

	ctx, span := telemetry.StartLockSpan(ctx, "temp_release",
		telemetry.LockerID(uint64(tr.locker.ID())),
		telemetry.LockMode(snap.GlobalMode.String()))
	defer span.End()

	tr.locker.RestoreLockState(ctx, snap)

	logger.DebugCtx(ctx, "Restored lock state",
		logger.LockerID(uint64(tr.locker.ID())),
		logger.Count(len(snap.Locks)))
}
