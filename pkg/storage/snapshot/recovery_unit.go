package snapshot

import (
	"context"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
)

// RecoveryUnit gives one operation a stable view of the store while it
// holds the Global lock. Register it on the locker with
// lock.WithSnapshotObserver.
//
// Thread Safety: OnGlobalLockReleased may be called from the goroutine that
// releases Global while another goroutine inspects HasSnapshot, so the
// transaction is guarded by a mutex. Reads and writes are meant to be issued
// by the owning operation only.
type RecoveryUnit struct {
	store *Store

	mu        sync.Mutex
	txn       *badgerdb.Txn
	abandoned int
}

// Snapshot opens the read snapshot if none is active and returns its read
// timestamp.
func (ru *RecoveryUnit) Snapshot() uint64 {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.snapshotLocked().ReadTs()
}

func (ru *RecoveryUnit) snapshotLocked() *badgerdb.Txn {
	if ru.txn == nil {
		ru.txn = ru.store.db.NewTransaction(false)
		if ru.store.metrics != nil {
			ru.store.metrics.ObserveSnapshotOpened()
		}
	}
	return ru.txn
}

// Get reads key from the active snapshot, opening one if needed.
func (ru *RecoveryUnit) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := telemetry.StartStorageSpan(ctx, "get", telemetry.StorageKey(key))
	defer span.End()

	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.store.read(ru.snapshotLocked(), key)
}

// Put commits key=value. The active snapshot, if any, does not observe it.
func (ru *RecoveryUnit) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := telemetry.StartStorageSpan(ctx, "put", telemetry.StorageKey(key))
	defer span.End()

	return ru.store.Put(ctx, key, value)
}

// HasSnapshot reports whether a read snapshot is active.
func (ru *RecoveryUnit) HasSnapshot() bool {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.txn != nil
}

// Abandoned returns how many snapshots have been abandoned.
func (ru *RecoveryUnit) Abandoned() int {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.abandoned
}

// OnGlobalLockReleased abandons the active snapshot. Called by the locker
// when its outermost Global lock is released.
func (ru *RecoveryUnit) OnGlobalLockReleased() {
	ru.mu.Lock()
	defer ru.mu.Unlock()

	if ru.txn == nil {
		return
	}
	readTs := ru.txn.ReadTs()
	ru.txn.Discard()
	ru.txn = nil
	ru.abandoned++

	if ru.store.metrics != nil {
		ru.store.metrics.ObserveSnapshotAbandoned()
	}
	logger.Debug("Snapshot abandoned", "read_ts", readTs)
}

// Close abandons any active snapshot.
func (ru *RecoveryUnit) Close() {
	ru.OnGlobalLockReleased()
}
