package lock

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
)

// newTestManager creates a manager with a small number of buckets so that
// unrelated resources share buckets in tests.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Buckets = 4
	return NewManager(cfg)
}

func newReq(m *Manager) *Request {
	return NewRequest(m.NewLockerID())
}

// ============================================================================
// Grant Tests
// ============================================================================

func TestManager_GrantCompatible(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	is := newReq(m)
	ix := newReq(m)
	s := newReq(m)

	assert.Equal(t, StatusGranted, m.Lock(db, is, ModeIS))
	assert.Equal(t, StatusGranted, m.Lock(db, ix, ModeIX))
	assert.Equal(t, StatusWaiting, m.Lock(db, s, ModeS), "S conflicts with granted IX")

	st := s.State()
	assert.Equal(t, StatusWaiting, st.Status)
	assert.Equal(t, ModeS, st.Mode)
	assert.Equal(t, db, st.Resource)

	assert.True(t, m.Unlock(ix))
	assert.Equal(t, StatusGranted, s.State().Status, "S granted once IX is released")

	assert.True(t, m.Unlock(is))
	assert.True(t, m.Unlock(s))
	assert.Empty(t, m.Dump())
}

func TestManager_EmptyResourceAcceptsAnyMode(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	for _, mode := range []Mode{ModeIS, ModeIX, ModeS, ModeX} {
		req := newReq(m)
		assert.Equal(t, StatusGranted, m.Lock(CollectionResource("db.c"), req, mode))
		assert.True(t, m.Unlock(req))
	}
}

func TestManager_Lock_InvalidArgumentsPanic(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	assert.Panics(t, func() { m.Lock(ResourceID(0), newReq(m), ModeS) })
	assert.Panics(t, func() { m.Lock(DatabaseResource("db"), newReq(m), ModeNone) })

	req := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(DatabaseResource("db"), req, ModeS))
	assert.Panics(t, func() { m.Lock(DatabaseResource("db"), req, ModeS) }, "request already granted")
	assert.Panics(t, func() { m.Unlock(newReq(m)) }, "request never locked")
}

// ============================================================================
// FIFO Policy Tests
// ============================================================================

func TestManager_FIFO_NoStarvation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	reader := newReq(m)
	writer := newReq(m)
	lateReader := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, reader, ModeS))
	require.Equal(t, StatusWaiting, m.Lock(db, writer, ModeX))
	// Compatible with the granted S, but queued behind the writer.
	require.Equal(t, StatusWaiting, m.Lock(db, lateReader, ModeS))
	assert.Equal(t, PolicyFIFO, m.PolicyFor(db))

	m.Unlock(reader)
	assert.Equal(t, StatusGranted, writer.State().Status)
	assert.Equal(t, StatusWaiting, lateReader.State().Status)

	m.Unlock(writer)
	assert.Equal(t, StatusGranted, lateReader.State().Status)

	m.Unlock(lateReader)
}

func TestManager_FIFO_GrantsCompatiblePrefix(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	is := newReq(m)
	ix := newReq(m)
	s := newReq(m)
	tail := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, is, ModeIS))
	require.Equal(t, StatusWaiting, m.Lock(db, ix, ModeIX))
	require.Equal(t, StatusWaiting, m.Lock(db, s, ModeS))
	require.Equal(t, StatusWaiting, m.Lock(db, tail, ModeIS))

	m.Unlock(holder)

	assert.Equal(t, StatusGranted, is.State().Status)
	assert.Equal(t, StatusGranted, ix.State().Status)
	assert.Equal(t, StatusWaiting, s.State().Status, "S conflicts with the granted IX")
	assert.Equal(t, StatusWaiting, tail.State().Status, "FIFO stops at the first blocked waiter")

	m.Unlock(ix)
	assert.Equal(t, StatusGranted, s.State().Status)
	assert.Equal(t, StatusGranted, tail.State().Status)

	m.Unlock(is)
	m.Unlock(s)
	m.Unlock(tail)
	assert.Empty(t, m.Dump())
}

func TestManager_FIFO_ExclusiveStopsScan(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	x1 := newReq(m)
	x2 := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeS))
	require.Equal(t, StatusWaiting, m.Lock(db, x1, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, x2, ModeX))

	m.Unlock(holder)
	assert.Equal(t, StatusGranted, x1.State().Status)
	assert.Equal(t, StatusWaiting, x2.State().Status)

	m.Unlock(x1)
	assert.Equal(t, StatusGranted, x2.State().Status)
	m.Unlock(x2)
}

// ============================================================================
// Compatible-First Policy Tests
// ============================================================================

func TestManager_CompatibleFirst_GlobalRead(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewManager(DefaultConfig(), WithMetrics(metrics))

	read := newReq(m)
	write := newReq(m)
	intent := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, read, ModeS))
	assert.Equal(t, PolicyCompatibleFirst, m.PolicyFor(ResourceIDGlobal))

	require.Equal(t, StatusWaiting, m.Lock(ResourceIDGlobal, write, ModeX))

	// IS is compatible with the granted S and skips the queued X.
	assert.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, intent, ModeIS))
	assert.Equal(t, StatusWaiting, write.State().Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.compatibleFirstGrants))

	m.Unlock(read)
	assert.Equal(t, StatusWaiting, write.State().Status, "X still blocked by IS")
	assert.Equal(t, PolicyFIFO, m.PolicyFor(ResourceIDGlobal))

	m.Unlock(intent)
	assert.Equal(t, StatusGranted, write.State().Status)
	assert.Equal(t, PolicyCompatibleFirst, m.PolicyFor(ResourceIDGlobal))

	m.Unlock(write)
	assert.Equal(t, PolicyFIFO, m.PolicyFor(ResourceIDGlobal))
	assert.Empty(t, m.Dump())
}

func TestManager_CompatibleFirst_ScansPastBlocked(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewManager(DefaultConfig(), WithMetrics(metrics))

	holder := newReq(m)
	ix := newReq(m)
	s := newReq(m)
	is := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(ResourceIDGlobal, ix, ModeIX))
	require.Equal(t, StatusWaiting, m.Lock(ResourceIDGlobal, s, ModeS))
	require.Equal(t, StatusWaiting, m.Lock(ResourceIDGlobal, is, ModeIS))

	// Strong Global requests jump to the front of the queue.
	dump := m.Dump()
	require.Len(t, dump, 1)
	require.Len(t, dump[0].Waiting, 3)
	assert.Equal(t, s.Owner(), dump[0].Waiting[0].Locker)
	assert.Equal(t, ix.Owner(), dump[0].Waiting[1].Locker)
	assert.Equal(t, is.Owner(), dump[0].Waiting[2].Locker)

	m.Unlock(holder)

	// S is granted and switches Global to compatible-first; IX stays blocked
	// but IS behind it is granted.
	assert.Equal(t, StatusGranted, s.State().Status)
	assert.Equal(t, StatusWaiting, ix.State().Status)
	assert.Equal(t, StatusGranted, is.State().Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.compatibleFirstGrants))

	m.Unlock(s)
	assert.Equal(t, StatusGranted, ix.State().Status)
	assert.Equal(t, PolicyFIFO, m.PolicyFor(ResourceIDGlobal))

	m.Unlock(ix)
	m.Unlock(is)
	assert.Empty(t, m.Dump())
}

func TestManager_CompatibleFirst_OnlyStrongGlobal(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	// Intent modes on Global and strong modes elsewhere keep FIFO.
	ix := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, ix, ModeIX))
	assert.Equal(t, PolicyFIFO, m.PolicyFor(ResourceIDGlobal))

	db := DatabaseResource("db1")
	x := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, x, ModeX))
	assert.Equal(t, PolicyFIFO, m.PolicyFor(db))

	flush := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(ResourceIDFlush, flush, ModeS))
	assert.Equal(t, PolicyCompatibleFirst, m.PolicyFor(ResourceIDFlush))

	m.Unlock(ix)
	m.Unlock(x)
	m.Unlock(flush)
}

// ============================================================================
// Conversion Tests
// ============================================================================

func TestManager_Convert_InPlace(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")
	req := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, req, ModeIS))

	assert.Equal(t, StatusGranted, m.Convert(db, req, ModeIX))
	assert.Equal(t, ModeIX, req.State().Mode)
	assert.Equal(t, 2, req.State().RecursiveCount)

	// Weaker request: count only.
	assert.Equal(t, StatusGranted, m.Convert(db, req, ModeIS))
	assert.Equal(t, ModeIX, req.State().Mode)
	assert.Equal(t, 3, req.State().RecursiveCount)

	// IX + S = X.
	assert.Equal(t, StatusGranted, m.Convert(db, req, ModeS))
	assert.Equal(t, ModeX, req.State().Mode)
	assert.Equal(t, 4, req.State().RecursiveCount)

	assert.False(t, m.Unlock(req))
	assert.False(t, m.Unlock(req))
	assert.False(t, m.Unlock(req))
	assert.Equal(t, ModeX, req.State().Mode, "unlock does not revert a conversion")
	assert.True(t, m.Unlock(req))
	assert.Equal(t, StatusNew, req.State().Status)
	assert.Empty(t, m.Dump())
}

func TestManager_Convert_Waits(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	conv := newReq(m)
	other := newReq(m)
	newcomer := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, conv, ModeS))
	require.Equal(t, StatusGranted, m.Lock(db, other, ModeS))

	require.Equal(t, StatusWaiting, m.Convert(db, conv, ModeX))
	st := conv.State()
	assert.Equal(t, StatusConverting, st.Status)
	assert.Equal(t, ModeS, st.Mode)
	assert.Equal(t, ModeX, st.ConvertMode)

	// A pending conversion blocks newcomers.
	require.Equal(t, StatusWaiting, m.Lock(db, newcomer, ModeIS))

	m.Unlock(other)
	st = conv.State()
	assert.Equal(t, StatusGranted, st.Status)
	assert.Equal(t, ModeX, st.Mode)
	assert.Equal(t, ModeNone, st.ConvertMode)
	assert.Equal(t, 2, st.RecursiveCount)
	assert.Equal(t, StatusWaiting, newcomer.State().Status)

	m.Unlock(conv)
	assert.Equal(t, StatusWaiting, newcomer.State().Status)
	m.Unlock(conv)
	assert.Equal(t, StatusGranted, newcomer.State().Status)
	m.Unlock(newcomer)
}

func TestManager_Convert_WrongStatusPanics(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	assert.Panics(t, func() { m.Convert(db, newReq(m), ModeX) })

	req := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, req, ModeS))
	assert.Panics(t, func() { m.Convert(DatabaseResource("other"), req, ModeX) })
	m.Unlock(req)
}

// ============================================================================
// Downgrade Tests
// ============================================================================

func TestManager_Downgrade(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	is := newReq(m)
	ix := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, is, ModeIS))
	require.Equal(t, StatusWaiting, m.Lock(db, ix, ModeIX))

	m.Downgrade(holder, ModeIX)
	assert.Equal(t, ModeIX, holder.State().Mode)
	assert.Equal(t, StatusGranted, is.State().Status)
	assert.Equal(t, StatusGranted, ix.State().Status)

	// Same mode is a no-op; S is not covered by IX.
	m.Downgrade(holder, ModeIX)
	assert.Panics(t, func() { m.Downgrade(holder, ModeS) })
	assert.Panics(t, func() { m.Downgrade(holder, ModeNone) })

	m.Unlock(holder)
	m.Unlock(is)
	m.Unlock(ix)
}

func TestManager_Downgrade_GlobalRevertsPolicy(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	holder := newReq(m)
	waiter := newReq(m)

	require.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(ResourceIDGlobal, waiter, ModeIS))
	assert.Equal(t, PolicyCompatibleFirst, m.PolicyFor(ResourceIDGlobal))

	m.Downgrade(holder, ModeIX)
	assert.Equal(t, PolicyFIFO, m.PolicyFor(ResourceIDGlobal))
	assert.Equal(t, StatusGranted, waiter.State().Status)

	m.Unlock(holder)
	m.Unlock(waiter)
}

// ============================================================================
// Wait Tests
// ============================================================================

func TestManager_Wait_Granted(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	waiter := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, waiter, ModeX))

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Unlock(holder)
	}()

	require.NoError(t, m.Wait(context.Background(), waiter, 5*time.Second))
	assert.Equal(t, StatusGranted, waiter.State().Status)
	m.Unlock(waiter)
}

func TestManager_Wait_Timeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	waiter := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, waiter, ModeS))

	const timeout = 50 * time.Millisecond
	start := time.Now()
	err := m.Wait(context.Background(), waiter, timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, lockerrors.IsTimeoutError(err))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, time.Second)

	// No waiter state is left behind.
	assert.Equal(t, StatusNew, waiter.State().Status)
	dump := m.Dump()
	require.Len(t, dump, 1)
	assert.Len(t, dump[0].Granted, 1)
	assert.Empty(t, dump[0].Waiting)

	m.Unlock(holder)
	assert.Empty(t, m.Dump())
}

func TestManager_Wait_ZeroTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	waiter := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeS))
	require.Equal(t, StatusWaiting, m.Lock(db, waiter, ModeX))

	err := m.Wait(context.Background(), waiter, 0)
	assert.True(t, lockerrors.IsTimeoutError(err))
	assert.Equal(t, StatusNew, waiter.State().Status)

	// The request can be reused after abandonment.
	m.Unlock(holder)
	assert.Equal(t, StatusGranted, m.Lock(db, waiter, ModeX))
	m.Unlock(waiter)
}

func TestManager_Wait_ContextCancelled(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	holder := newReq(m)
	waiter := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, holder, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, waiter, ModeX))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Wait(ctx, waiter, InfiniteTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusNew, waiter.State().Status)

	m.Unlock(holder)
}

func TestManager_Wait_ConversionTimeoutKeepsMode(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	conv := newReq(m)
	other := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(db, conv, ModeIS))
	require.Equal(t, StatusGranted, m.Lock(db, other, ModeIX))
	require.Equal(t, StatusWaiting, m.Convert(db, conv, ModeS))

	err := m.Wait(context.Background(), conv, 10*time.Millisecond)
	assert.True(t, lockerrors.IsTimeoutError(err))

	st := conv.State()
	assert.Equal(t, StatusGranted, st.Status)
	assert.Equal(t, ModeIS, st.Mode)
	assert.Equal(t, 1, st.RecursiveCount)

	m.Unlock(conv)
	m.Unlock(other)
	assert.Empty(t, m.Dump())
}

// ============================================================================
// Diagnostics Tests
// ============================================================================

func TestManager_Dump(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	db := DatabaseResource("db1")

	g := newReq(m)
	d := newReq(m)
	w := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(ResourceIDGlobal, g, ModeIX))
	require.Equal(t, StatusGranted, m.Lock(db, d, ModeX))
	require.Equal(t, StatusWaiting, m.Lock(db, w, ModeIS))

	dump := m.Dump()
	require.Len(t, dump, 2)

	assert.Equal(t, ResourceIDGlobal, dump[0].Resource)
	assert.Equal(t, "Global", dump[0].ResourceType)
	assert.Equal(t, PolicyFIFO, dump[0].Policy)
	require.Len(t, dump[0].Granted, 1)
	assert.Equal(t, g.Owner(), dump[0].Granted[0].Locker)
	assert.Equal(t, ModeIX, dump[0].Granted[0].Mode)

	assert.Equal(t, db, dump[1].Resource)
	require.Len(t, dump[1].Waiting, 1)
	assert.Equal(t, w.Owner(), dump[1].Waiting[0].Locker)
	assert.Equal(t, StatusWaiting, dump[1].Waiting[0].Status)

	m.Unlock(w)
	m.Unlock(d)
	m.Unlock(g)
}

func TestManager_ResourceMutex(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	a := m.ResourceMutex("catalog")
	b := m.ResourceMutex("catalog")
	c := m.ResourceMutex("sessions")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, ResourceMutex, a.Type())

	name, ok := m.MutexName(a)
	require.True(t, ok)
	assert.Equal(t, "catalog", name)

	_, ok = m.MutexName(DatabaseResource("catalog"))
	assert.False(t, ok)

	req := newReq(m)
	require.Equal(t, StatusGranted, m.Lock(a, req, ModeX))
	dump := m.Dump()
	require.Len(t, dump, 1)
	assert.Equal(t, "catalog", dump[0].Name)
	assert.Equal(t, "Mutex", dump[0].ResourceType)
	m.Unlock(req)
}

func TestManager_NewLockerID_Unique(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	seen := make(map[LockerID]bool)
	for i := 0; i < 100; i++ {
		id := m.NewLockerID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestManager_ConfigDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	cfg := m.Config()
	assert.Equal(t, 128, cfg.Buckets)
	assert.Equal(t, 128, cfg.TicketCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.DeadlockCheckInterval)
	assert.Equal(t, InfiniteTimeout, cfg.EffectiveDefaultTimeout())

	cfg.DefaultTimeout = time.Second
	assert.Equal(t, time.Second, cfg.EffectiveDefaultTimeout())
	assert.Nil(t, m.Metrics())
}
