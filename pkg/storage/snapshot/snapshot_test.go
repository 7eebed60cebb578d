package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/internal/bytesize"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

func openTestStore(t *testing.T, m Metrics) *Store {
	t.Helper()
	s, err := Open(DefaultConfig(), m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recordingMetrics struct {
	mu        sync.Mutex
	opened    int
	abandoned int
	hits      int
	misses    int
	writes    int
}

func (r *recordingMetrics) ObserveSnapshotOpened() {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveSnapshotAbandoned() {
	r.mu.Lock()
	r.abandoned++
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveRead(hit bool, _ time.Duration) {
	r.mu.Lock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveWrite(time.Duration, error) {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, nil)

	require.NoError(t, s.Put(ctx, "db1.items/1", []byte("a")))

	v, err := s.Get(ctx, "db1.items/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Healthcheck(ctx))
}

func TestStore_CancelledContext(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "k", []byte("v")), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Healthcheck(ctx), context.Canceled)
}

func TestStore_HealthcheckAfterClose(t *testing.T) {
	t.Parallel()

	s, err := Open(DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Healthcheck(context.Background()), ErrClosed)
}

func TestRecoveryUnit_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := &recordingMetrics{}
	s := openTestStore(t, m)
	require.NoError(t, s.Put(ctx, "k", []byte("v1")))

	ru := s.NewRecoveryUnit()
	assert.False(t, ru.HasSnapshot())

	v, err := ru.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	assert.True(t, ru.HasSnapshot())

	// A concurrent writer commits; the open snapshot does not see it.
	require.NoError(t, s.Put(ctx, "k", []byte("v2")))
	v, err = ru.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	ru.OnGlobalLockReleased()
	assert.False(t, ru.HasSnapshot())
	assert.Equal(t, 1, ru.Abandoned())

	v, err = ru.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	ru.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.opened)
	assert.Equal(t, 2, m.abandoned)
	assert.Equal(t, 3, m.hits)
	assert.Equal(t, 2, m.writes)
}

func TestRecoveryUnit_SnapshotTimestampStable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, nil)
	ru := s.NewRecoveryUnit()

	ts := ru.Snapshot()
	require.NoError(t, ru.Put(ctx, "k", []byte("v")))
	assert.Equal(t, ts, ru.Snapshot())

	_, err := ru.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "written after the snapshot was taken")

	ru.OnGlobalLockReleased()
	ru.OnGlobalLockReleased()
	assert.Equal(t, 1, ru.Abandoned())
	assert.Greater(t, ru.Snapshot(), ts)
}

func TestRecoveryUnit_AbandonedOnOutermostGlobalRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, nil)
	require.NoError(t, s.Put(ctx, "k", []byte("v1")))

	m := lock.NewManager(lock.DefaultConfig())
	ru := s.NewRecoveryUnit()
	l := lock.NewLocker(m, lock.WithSnapshotObserver(ru))

	require.NoError(t, l.LockGlobal(ctx, lock.ModeIS, lock.InfiniteTimeout))
	require.NoError(t, l.LockGlobal(ctx, lock.ModeIS, lock.InfiniteTimeout))

	_, err := ru.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ru.HasSnapshot())

	l.UnlockGlobal()
	assert.True(t, ru.HasSnapshot(), "inner release keeps the snapshot")

	l.UnlockGlobal()
	assert.False(t, ru.HasSnapshot(), "outermost release abandons it")
	assert.NoError(t, l.Close())
}

func TestOpen_SizedOnDisk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := Config{
		Dir:            t.TempDir(),
		MemTableSize:   8 * bytesize.MiB,
		BlockCacheSize: 16 * bytesize.MiB,
	}

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
