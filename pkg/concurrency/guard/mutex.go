package guard

import (
	"context"
	"fmt"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// ResourceMutex is a named lock outside the Global/Database/Collection
// hierarchy, for protecting in-memory structures with S/X semantics.
// The name is registered with the manager so that dumps can show it.
type ResourceMutex struct {
	name string
	id   lock.ResourceID
}

// NewResourceMutex returns the mutex registered under name. Mutexes created
// with the same name on the same manager share one resource.
func NewResourceMutex(m *lock.Manager, name string) *ResourceMutex {
	return &ResourceMutex{name: name, id: m.ResourceMutex(name)}
}

// Name returns the mutex label.
func (rm *ResourceMutex) Name() string { return rm.name }

// Resource returns the mutex resource id.
func (rm *ResourceMutex) Resource() lock.ResourceID { return rm.id }

// SharedLock locks the mutex in S.
func (rm *ResourceMutex) SharedLock(ctx context.Context, l *lock.Locker) (*MutexLock, error) {
	return rm.acquire(ctx, l, lock.ModeS)
}

// ExclusiveLock locks the mutex in X.
func (rm *ResourceMutex) ExclusiveLock(ctx context.Context, l *lock.Locker) (*MutexLock, error) {
	return rm.acquire(ctx, l, lock.ModeX)
}

func (rm *ResourceMutex) acquire(ctx context.Context, l *lock.Locker, mode lock.Mode) (*MutexLock, error) {
	if err := l.Lock(ctx, rm.id, mode, defaultTimeout(l)); err != nil {
		logger.DebugCtx(ctx, "Resource mutex not acquired",
			logger.LockerID(uint64(l.ID())),
			logger.MutexName(rm.name),
			logger.LockMode(mode.String()),
			logger.Err(err))
		return nil, fmt.Errorf("lock mutex %s: %w", rm.name, err)
	}
	return &MutexLock{locker: l, mutex: rm, mode: mode, held: true}, nil
}

// MutexLock is a held ResourceMutex.
type MutexLock struct {
	locker *lock.Locker
	mutex  *ResourceMutex
	mode   lock.Mode
	held   bool
}

// Mode returns S or X.
func (ml *MutexLock) Mode() lock.Mode { return ml.mode }

// IsLocked reports whether the mutex is still held.
func (ml *MutexLock) IsLocked() bool { return ml.held }

// Unlock releases the mutex. Safe to call more than once.
func (ml *MutexLock) Unlock() {
	if !ml.held {
		return
	}
	ml.held = false
	ml.locker.Unlock(ml.mutex.id)
}
