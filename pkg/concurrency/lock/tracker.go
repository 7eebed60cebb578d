package lock

import "sync/atomic"

// GlobalLockAcquisitionTracker records whether an operation ever held the
// Global resource in an intent-exclusive or exclusive mode. It is sticky:
// once set it stays set, even after the lock is released.
//
// A nil tracker records nothing.
type GlobalLockAcquisitionTracker struct {
	exclusive atomic.Bool
}

// GlobalExclusiveLockTaken reports whether Global IX or X was ever granted.
func (t *GlobalLockAcquisitionTracker) GlobalExclusiveLockTaken() bool {
	if t == nil {
		return false
	}
	return t.exclusive.Load()
}

// SetGlobalExclusiveLockTaken marks the tracker.
func (t *GlobalLockAcquisitionTracker) SetGlobalExclusiveLockTaken() {
	if t == nil {
		return
	}
	t.exclusive.Store(true)
}
