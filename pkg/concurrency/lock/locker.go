package lock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
)

// SnapshotObserver is notified when a Locker releases its outermost Global
// lock, so that a storage snapshot pinned by the operation can be abandoned.
type SnapshotObserver interface {
	OnGlobalLockReleased()
}

// Locker is the per-operation view of the lock manager. It remembers every
// resource the operation holds, applies ticket admission to strong Global
// acquisitions and mirrors the flush resource.
//
// Thread Safety:
// A Locker belongs to one operation and its acquisition and release methods
// must not be called concurrently. The query methods (Mode, Info,
// WaitingResource and friends) may be called from other goroutines.
type Locker struct {
	id      LockerID
	manager *Manager

	// mu guards requests and waitingFor.
	mu         sync.Mutex
	requests   map[ResourceID]*Request
	waitingFor ResourceID

	tickets    *TicketHolder
	throttling atomic.Bool
	ticketHeld atomic.Bool

	// attemptTicket is set while a Global acquisition that took the ticket
	// is still pending.
	attemptTicket bool

	mirrorFlush       bool
	deadlockDetection bool
	deadlockInterval  time.Duration

	observer SnapshotObserver
	tracker  *GlobalLockAcquisitionTracker
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithTicketHolder makes strong Global acquisitions take a ticket from th.
func WithTicketHolder(th *TicketHolder) LockerOption {
	return func(l *Locker) {
		l.tickets = th
	}
}

// WithThrottling overrides the manager's throttling setting.
func WithThrottling(enabled bool) LockerOption {
	return func(l *Locker) {
		l.throttling.Store(enabled)
	}
}

// WithSnapshotObserver registers o for outermost Global release notifications.
func WithSnapshotObserver(o SnapshotObserver) LockerOption {
	return func(l *Locker) {
		l.observer = o
	}
}

// WithAcquisitionTracker registers t to record Global IX/X grants.
func WithAcquisitionTracker(t *GlobalLockAcquisitionTracker) LockerOption {
	return func(l *Locker) {
		l.tracker = t
	}
}

// WithFlushLock overrides the manager's flush mirroring setting.
func WithFlushLock(enabled bool) LockerOption {
	return func(l *Locker) {
		l.mirrorFlush = enabled
	}
}

// WithDeadlockDetection overrides the manager's deadlock detection setting.
func WithDeadlockDetection(enabled bool) LockerOption {
	return func(l *Locker) {
		l.deadlockDetection = enabled
	}
}

// NewLocker creates a Locker with a fresh identity. Throttling, flush
// mirroring and deadlock detection default to the manager's configuration.
func NewLocker(m *Manager, opts ...LockerOption) *Locker {
	cfg := m.Config()
	l := &Locker{
		id:                m.NewLockerID(),
		manager:           m,
		requests:          make(map[ResourceID]*Request),
		mirrorFlush:       cfg.MirrorFlushLock,
		deadlockDetection: cfg.DeadlockDetection,
		deadlockInterval:  cfg.DeadlockCheckInterval,
	}
	l.throttling.Store(cfg.Throttling)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the locker's identity.
func (l *Locker) ID() LockerID {
	return l.id
}

// Manager returns the lock manager the locker acquires from.
func (l *Locker) Manager() *Manager {
	return l.manager
}

// SetThrottling enables or disables ticket admission for later acquisitions.
// A ticket already held is kept until Global is released.
func (l *Locker) SetThrottling(enabled bool) {
	l.throttling.Store(enabled)
}

// HasTicket reports whether the locker currently holds a ticket.
func (l *Locker) HasTicket() bool {
	return l.ticketHeld.Load()
}

func (l *Locker) find(resID ResourceID) *Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests[resID]
}

func (l *Locker) remember(resID ResourceID, req *Request) {
	l.mu.Lock()
	l.requests[resID] = req
	l.mu.Unlock()
}

func (l *Locker) forget(resID ResourceID) {
	l.mu.Lock()
	delete(l.requests, resID)
	l.mu.Unlock()
}

func (l *Locker) setWaiting(resID ResourceID) {
	l.mu.Lock()
	l.waitingFor = resID
	l.mu.Unlock()
}

// ============================================================================
// Acquisition
// ============================================================================

// Lock acquires resID in mode, waiting up to timeout.
//
// A zero timeout tries once; InfiniteTimeout waits until granted or ctx is
// done. Re-acquiring a held resource increments its recursion count and may
// convert it to a stronger mode. The Global resource is routed through
// LockGlobal.
func (l *Locker) Lock(ctx context.Context, resID ResourceID, mode Mode, timeout time.Duration) error {
	if resID == ResourceIDGlobal {
		return l.LockGlobal(ctx, mode, timeout)
	}
	if l.LockBegin(resID, mode) == StatusGranted {
		return nil
	}
	return l.LockComplete(ctx, resID, timeout)
}

// LockBegin registers the request without blocking. If it returns
// StatusWaiting, the caller must follow with LockComplete (which may be
// given a zero timeout to abandon the request).
//
// Global must be acquired through LockGlobalBegin so that tickets are taken.
func (l *Locker) LockBegin(resID ResourceID, mode Mode) Status {
	var st Status
	if req := l.find(resID); req != nil {
		req.drain()
		st = l.manager.Convert(resID, req, mode)
	} else {
		req = NewRequest(l.id)
		st = l.manager.Lock(resID, req, mode)
		l.remember(resID, req)
	}

	if st == StatusGranted {
		l.manager.metrics.ObserveAcquire(resID.Type(), mode, StatusLabelGranted)
	} else {
		l.manager.metrics.ObserveAcquire(resID.Type(), mode, StatusLabelWaiting)
	}
	return st
}

// LockComplete waits for a request registered by LockBegin.
//
// On timeout, deadlock or cancellation the request is abandoned: a waiting
// request is removed entirely, a pending conversion is cancelled and the
// previously held mode is kept. If the grant races with the timeout, the
// grant wins and nil is returned.
func (l *Locker) LockComplete(ctx context.Context, resID ResourceID, timeout time.Duration) error {
	req := l.find(resID)
	if req == nil {
		return lockerrors.NewNotLockedError(resID.String())
	}

	st := req.State()
	mode := st.Mode
	if st.Status == StatusConverting {
		mode = st.ConvertMode
	}

	l.setWaiting(resID)
	defer l.setWaiting(0)

	ctx, span := telemetry.StartLockSpan(ctx, "wait",
		telemetry.LockerID(uint64(l.id)),
		telemetry.Resource(resID.String()),
		telemetry.LockMode(mode.String()),
		telemetry.TimeoutMs(timeout))
	defer span.End()

	start := time.Now()
	err := l.wait(ctx, req, resID, timeout)
	l.manager.metrics.ObserveWaitDuration(resID.Type(), mode, time.Since(start))

	if err != nil {
		telemetry.RecordError(ctx, err)
		l.manager.metrics.ObserveAcquire(resID.Type(), mode, failureLabel(err))
		if req.State().Status == StatusNew {
			l.forget(resID)
		}
		logger.DebugCtx(ctx, "Lock acquisition failed",
			logger.LockerID(uint64(l.id)),
			logger.Resource(resID.String()),
			logger.LockMode(mode.String()),
			logger.TimeoutMs(timeout),
			logger.Err(err))
		return err
	}

	l.manager.metrics.ObserveAcquire(resID.Type(), mode, StatusLabelGranted)
	return nil
}

// wait blocks on req, checking for deadlocks between slices of the timeout
// when detection is enabled.
func (l *Locker) wait(ctx context.Context, req *Request, resID ResourceID, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		slice := timeout
		if timeout > 0 {
			slice = time.Until(deadline)
			if slice < 0 {
				slice = 0
			}
		}
		if l.deadlockDetection && l.deadlockInterval > 0 && (slice < 0 || slice > l.deadlockInterval) {
			slice = l.deadlockInterval
		}

		granted, err := l.manager.awaitGrant(ctx, req, slice)
		if granted {
			return nil
		}
		if err != nil {
			if l.manager.cancelPending(req) {
				return nil
			}
			return err
		}

		if l.deadlockDetection && l.manager.WaitForGraph().InCycle(l.id) {
			if l.manager.cancelPending(req) {
				return nil
			}
			l.manager.metrics.ObserveDeadlock()
			logger.Warn("Deadlock detected, abandoning lock request",
				logger.LockerID(uint64(l.id)),
				logger.Resource(resID.String()))
			return lockerrors.NewDeadlockError(resID.String())
		}

		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			if l.manager.cancelPending(req) {
				return nil
			}
			return lockerrors.NewTimeoutError(resID.String())
		}
	}
}

func failureLabel(err error) string {
	switch {
	case lockerrors.IsDeadlockError(err):
		return StatusLabelDeadlock
	case lockerrors.IsTimeoutError(err):
		return StatusLabelTimeout
	default:
		return StatusLabelCanceled
	}
}

// ============================================================================
// Global Acquisition
// ============================================================================

// LockGlobal acquires the Global resource. The timeout covers both ticket
// admission and the lock itself.
func (l *Locker) LockGlobal(ctx context.Context, mode Mode, timeout time.Duration) error {
	start := time.Now()

	st, err := l.LockGlobalBegin(ctx, mode, timeout)
	if err != nil {
		return err
	}
	if st == StatusGranted {
		return nil
	}
	return l.LockGlobalComplete(ctx, remaining(timeout, start))
}

// LockGlobalBegin takes a ticket if needed and registers the Global request
// without waiting for the lock itself. Ticket admission may block up to
// timeout; if it fails, the manager is never contacted.
func (l *Locker) LockGlobalBegin(ctx context.Context, mode Mode, timeout time.Duration) (Status, error) {
	took, err := l.acquireTicket(ctx, mode, timeout)
	if err != nil {
		l.manager.metrics.ObserveAcquire(ResourceGlobal, mode, failureLabel(err))
		return StatusNew, err
	}
	l.attemptTicket = took

	st := l.LockBegin(ResourceIDGlobal, mode)
	if st == StatusGranted {
		l.attemptTicket = false
		l.onGlobalGranted()
	}
	return st, nil
}

// LockGlobalComplete waits for a Global request registered by LockGlobalBegin.
func (l *Locker) LockGlobalComplete(ctx context.Context, timeout time.Duration) error {
	if err := l.LockComplete(ctx, ResourceIDGlobal, timeout); err != nil {
		l.dropAttemptTicket()
		return err
	}
	l.attemptTicket = false
	l.onGlobalGranted()
	return nil
}

// dropAttemptTicket returns a ticket taken by an abandoned Global attempt
// unless the mode still held on Global is S or X.
func (l *Locker) dropAttemptTicket() {
	if !l.attemptTicket {
		return
	}
	l.attemptTicket = false
	if held := l.Mode(ResourceIDGlobal); held != ModeS && held != ModeX {
		l.releaseTicket()
	}
}

// acquireTicket reports whether a ticket was taken by this call.
func (l *Locker) acquireTicket(ctx context.Context, mode Mode, timeout time.Duration) (bool, error) {
	if l.ticketHeld.Load() || !l.throttling.Load() || l.tickets == nil {
		return false, nil
	}

	effective := Supremum(l.Mode(ResourceIDGlobal), mode)
	if effective != ModeS && effective != ModeX {
		return false, nil
	}

	ctx, span := telemetry.StartLockSpan(ctx, "ticket_wait",
		telemetry.LockerID(uint64(l.id)),
		telemetry.LockMode(effective.String()),
		telemetry.TimeoutMs(timeout),
		telemetry.TicketsCapacity(l.tickets.Capacity()),
		telemetry.TicketsOutstanding(l.tickets.Outstanding()))
	defer span.End()

	if err := l.tickets.Acquire(ctx, timeout); err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Ticket acquisition failed",
			logger.LockerID(uint64(l.id)),
			logger.LockMode(effective.String()),
			logger.TimeoutMs(timeout),
			logger.Err(err))
		return false, err
	}
	l.ticketHeld.Store(true)
	return true, nil
}

func (l *Locker) releaseTicket() {
	if l.ticketHeld.CompareAndSwap(true, false) {
		l.tickets.Release()
	}
}

func (l *Locker) onGlobalGranted() {
	mode := l.Mode(ResourceIDGlobal)
	if mode == ModeIX || mode == ModeX {
		l.tracker.SetGlobalExclusiveLockTaken()
	}
	if l.mirrorFlush {
		l.syncFlushLock(mode)
	}
}

// syncFlushLock brings the flush resource up to IS (Global IS/S) or IX
// (Global IX/X). Flush is held at most once regardless of Global recursion.
func (l *Locker) syncFlushLock(global Mode) {
	want := ModeIS
	if global == ModeIX || global == ModeX {
		want = ModeIX
	}

	req := l.find(ResourceIDFlush)
	if req == nil {
		req = NewRequest(l.id)
		st := l.manager.Lock(ResourceIDFlush, req, want)
		l.remember(ResourceIDFlush, req)
		if st != StatusGranted {
			l.waitFlush(req)
		}
		return
	}

	if IsModeCovered(want, req.heldMode()) {
		return
	}
	req.drain()
	if l.manager.Convert(ResourceIDFlush, req, want) != StatusGranted {
		l.waitFlush(req)
	}
	// Undo the recursion added by Convert.
	l.manager.Unlock(req)
}

func (l *Locker) waitFlush(req *Request) {
	if err := l.manager.Wait(context.Background(), req, InfiniteTimeout); err != nil {
		panic(lockerrors.NewInvariantError("flush lock acquisition failed: %v", err))
	}
}

// ============================================================================
// Release
// ============================================================================

// Unlock releases one recursion level of resID. Returns true when the
// resource was fully released. The Global resource is routed through
// UnlockGlobal.
func (l *Locker) Unlock(resID ResourceID) bool {
	if resID == ResourceIDGlobal {
		return l.UnlockGlobal()
	}
	req := l.find(resID)
	if req == nil {
		return false
	}
	return l.unlockRequest(resID, req)
}

func (l *Locker) unlockRequest(resID ResourceID, req *Request) bool {
	if !l.manager.Unlock(req) {
		return false
	}
	l.forget(resID)
	return true
}

// UnlockGlobal releases one recursion level of Global. On the outermost
// release it also releases the mirrored flush lock, returns the ticket and
// notifies the snapshot observer. Withdrawing a request that was never
// granted only returns the ticket.
func (l *Locker) UnlockGlobal() bool {
	req := l.find(ResourceIDGlobal)
	if req == nil {
		return false
	}
	wasHeld := req.State().Status != StatusWaiting
	if !l.unlockRequest(ResourceIDGlobal, req) {
		l.dropAttemptTicket()
		return false
	}
	l.attemptTicket = false

	if !wasHeld {
		l.releaseTicket()
		return true
	}

	if l.mirrorFlush {
		if flush := l.find(ResourceIDFlush); flush != nil {
			l.unlockRequest(ResourceIDFlush, flush)
		}
	}
	l.releaseTicket()

	if l.observer != nil {
		l.observer.OnGlobalLockReleased()
	}
	return true
}

// Downgrade lowers the mode of a held resource. Panics with an invariant
// error if the resource is not held or mode is not covered by the held mode.
func (l *Locker) Downgrade(resID ResourceID, mode Mode) {
	req := l.find(resID)
	if req == nil {
		panic(lockerrors.NewInvariantError("downgrade of %s which is not held", resID))
	}
	l.manager.Downgrade(req, mode)
}

// Close verifies the locker holds nothing.
func (l *Locker) Close() error {
	l.mu.Lock()
	n := len(l.requests)
	l.mu.Unlock()

	if n > 0 {
		return lockerrors.NewLocksHeldError(n)
	}
	if l.ticketHeld.Load() {
		return lockerrors.NewInvariantError("locker %d closed while holding a ticket", l.id)
	}
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// Mode returns the mode held on resID, or ModeNone. A request that is still
// waiting holds nothing; a converting request holds its original mode.
func (l *Locker) Mode(resID ResourceID) Mode {
	req := l.find(resID)
	if req == nil {
		return ModeNone
	}
	return req.heldMode()
}

// IsLockHeldForMode reports whether the held mode on resID covers mode.
func (l *Locker) IsLockHeldForMode(resID ResourceID, mode Mode) bool {
	held := l.Mode(resID)
	return held != ModeNone && IsModeCovered(mode, held)
}

// IsW reports whether Global is held in X.
func (l *Locker) IsW() bool { return l.Mode(ResourceIDGlobal) == ModeX }

// IsR reports whether Global is held in S.
func (l *Locker) IsR() bool { return l.Mode(ResourceIDGlobal) == ModeS }

// IsLocked reports whether Global is held in any mode.
func (l *Locker) IsLocked() bool { return l.Mode(ResourceIDGlobal) != ModeNone }

// IsWriteLocked reports whether Global is held in IX or X.
func (l *Locker) IsWriteLocked() bool {
	m := l.Mode(ResourceIDGlobal)
	return m == ModeIX || m == ModeX
}

// IsReadLocked reports whether Global is held in IS or S.
func (l *Locker) IsReadLocked() bool {
	return IsSharedMode(l.Mode(ResourceIDGlobal))
}

// IsDBLockedForMode reports whether db is effectively locked for mode,
// taking a strong Global lock into account.
func (l *Locker) IsDBLockedForMode(db string, mode Mode) bool {
	if l.IsW() {
		return true
	}
	if l.IsR() && IsSharedMode(mode) {
		return true
	}
	return l.IsLockHeldForMode(DatabaseResource(db), mode)
}

// IsCollectionLockedForMode reports whether the namespace ns ("db.coll") is
// effectively locked for mode, taking Global and database locks into account.
func (l *Locker) IsCollectionLockedForMode(ns string, mode Mode) bool {
	if l.IsW() {
		return true
	}
	if l.IsR() && IsSharedMode(mode) {
		return true
	}

	switch l.Mode(DatabaseResource(DatabaseOf(ns))) {
	case ModeNone:
		return false
	case ModeX:
		return true
	case ModeS:
		return IsSharedMode(mode)
	default:
		return l.IsLockHeldForMode(CollectionResource(ns), mode)
	}
}

// DatabaseOf returns the database part of a namespace.
func DatabaseOf(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i]
	}
	return ns
}

// WaitingResource returns the resource the locker is blocked on, if any.
func (l *Locker) WaitingResource() (ResourceID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitingFor, l.waitingFor.IsValid()
}

// LockerInfo is a snapshot of a locker for diagnostics.
type LockerInfo struct {
	ID         LockerID       `json:"id"`
	WaitingFor *ResourceID    `json:"waiting_for,omitempty"`
	Locks      []RequestState `json:"locks"`
	HasTicket  bool           `json:"has_ticket"`
}

// Info returns the locker's requests ordered by resource id.
func (l *Locker) Info() LockerInfo {
	l.mu.Lock()
	reqs := make([]*Request, 0, len(l.requests))
	for _, req := range l.requests {
		reqs = append(reqs, req)
	}
	waiting := l.waitingFor
	l.mu.Unlock()

	info := LockerInfo{
		ID:        l.id,
		Locks:     make([]RequestState, 0, len(reqs)),
		HasTicket: l.ticketHeld.Load(),
	}
	if waiting.IsValid() {
		info.WaitingFor = &waiting
	}
	for _, req := range reqs {
		info.Locks = append(info.Locks, req.State())
	}
	sort.Slice(info.Locks, func(i, j int) bool {
		return info.Locks[i].Resource < info.Locks[j].Resource
	})
	return info
}

func remaining(timeout time.Duration, start time.Time) time.Duration {
	if timeout <= 0 {
		return timeout
	}
	left := timeout - time.Since(start)
	if left < 0 {
		return 0
	}
	return left
}
