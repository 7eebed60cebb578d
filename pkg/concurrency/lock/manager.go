package lock

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
)

// Manager is the lock table. It holds one lockHead per resource that has at
// least one granted or waiting request, spread over a fixed number of
// independently locked buckets.
//
// The Manager only records grants and queues; it never blocks. Blocking is
// done by the owner of a request through Wait, which sleeps on the request's
// notification channel.
//
// Thread Safety:
// Manager is safe for concurrent use. Operations on resources in different
// buckets do not contend.
type Manager struct {
	cfg     Config
	buckets []bucket
	metrics *Metrics

	mutexes mutexRegistry

	nextLockerID atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics makes the manager report to m.
func WithMetrics(m *Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates an empty lock table.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	cfg.ApplyDefaults()

	m := &Manager{
		cfg:     cfg,
		buckets: make([]bucket, cfg.Buckets),
	}
	for i := range m.buckets {
		m.buckets[i].heads = make(map[ResourceID]*lockHead)
	}
	m.mutexes.byName = make(map[string]ResourceID)
	m.mutexes.names = make(map[ResourceID]string)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Metrics returns the metrics sink, which may be nil.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// NewLockerID allocates an owner identity.
func (m *Manager) NewLockerID() LockerID {
	return LockerID(m.nextLockerID.Add(1))
}

func (m *Manager) bucketFor(resID ResourceID) *bucket {
	return &m.buckets[uint64(resID)%uint64(len(m.buckets))]
}

// ============================================================================
// Acquisition
// ============================================================================

// Lock registers a new request for resID in mode.
//
// Returns StatusGranted if the request was granted immediately, or
// StatusWaiting if it was queued; in the latter case the owner must call
// Wait (or Unlock to abandon it). The request must be in StatusNew.
func (m *Manager) Lock(resID ResourceID, req *Request, mode Mode) Status {
	if !resID.IsValid() || mode == ModeNone {
		panic(lockerrors.NewInvariantError("lock of %s in mode %s", resID, mode))
	}

	b := m.bucketFor(resID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.status != StatusNew {
		panic(lockerrors.NewInvariantError("lock of %s with a request in status %s", resID, req.status))
	}

	h := b.findOrCreate(resID)
	req.resID = resID
	req.bucket = b
	req.head = h
	req.mode = mode
	req.recursiveCount = 1
	req.setPriority(resID, mode)

	if Conflicts(mode, h.grantedModes) ||
		(!h.policy().admitsPastQueue() && Conflicts(mode, h.conflictModes)) {
		h.enqueue(req)
		m.metrics.AddWaiting(resID.Type(), 1)
		return StatusWaiting
	}

	if Conflicts(mode, h.conflictModes) {
		m.metrics.ObserveCompatibleFirstGrant()
	}
	h.grant(req)
	req.grantedAt = time.Now()
	return StatusGranted
}

// Convert re-acquires a granted request, possibly in a stronger mode.
//
// The recursion count is always incremented. The target mode is the supremum
// of the held and requested modes; if it is already held the call returns
// StatusGranted at once. Otherwise the conversion happens in place when no
// other holder conflicts, or the request moves to StatusConverting and
// StatusWaiting is returned.
func (m *Manager) Convert(resID ResourceID, req *Request, mode Mode) Status {
	b := m.bucketFor(resID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.status != StatusGranted || req.resID != resID {
		panic(lockerrors.NewInvariantError("convert of %s with a request in status %s", resID, req.status))
	}

	req.recursiveCount++

	target := Supremum(req.mode, mode)
	if target == req.mode {
		return StatusGranted
	}

	h := req.head
	req.setPriority(resID, target)

	if !Conflicts(target, h.grantedModesExcluding(req)) {
		h.incGranted(target)
		h.decGranted(req.mode)
		req.mode = target
		h.countCompatibleFirst(req)
		return StatusGranted
	}

	req.status = StatusConverting
	req.convertMode = target
	h.conversionsCount++
	h.incGranted(target)
	m.metrics.AddWaiting(resID.Type(), 1)
	return StatusWaiting
}

// ============================================================================
// Release
// ============================================================================

// Unlock decrements the recursion count of a granted request, releasing it
// when the count reaches zero, or abandons a waiting or converting request.
//
// Returns true if the request no longer participates in the lock table.
func (m *Manager) Unlock(req *Request) bool {
	b := req.bucket
	if b == nil {
		panic(lockerrors.NewInvariantError("unlock of a request that is not in the lock table"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return m.unlockLocked(b, req)
}

func (m *Manager) unlockLocked(b *bucket, req *Request) bool {
	h := req.head
	resType := req.resID.Type()

	switch req.status {
	case StatusGranted:
		req.recursiveCount--
		if req.recursiveCount > 0 {
			return false
		}
		mode := req.mode
		h.release(req)
		m.metrics.ObserveRelease(resType)
		m.metrics.ObserveHoldDuration(resType, mode, time.Since(req.grantedAt))
		m.onLockModeChanged(h, h.grantedCounts[mode] == 0)

	case StatusWaiting:
		req.recursiveCount--
		h.dequeue(req)
		m.metrics.AddWaiting(resType, -1)
		m.onLockModeChanged(h, true)

	case StatusConverting:
		// Cancels the conversion; the originally held mode stays granted.
		req.recursiveCount--
		convertMode := req.convertMode
		req.status = StatusGranted
		req.convertMode = ModeNone
		h.conversionsCount--
		h.decGranted(convertMode)
		m.metrics.AddWaiting(resType, -1)
		m.onLockModeChanged(h, h.grantedCounts[convertMode] == 0)

	default:
		panic(lockerrors.NewInvariantError("unlock of %s with a request in status %s", req.resID, req.status))
	}

	b.cleanup(h)

	if req.recursiveCount > 0 {
		return false
	}
	req.reset()
	return true
}

// Downgrade lowers the mode of a granted request. The new mode must be
// covered by the held mode.
func (m *Manager) Downgrade(req *Request, mode Mode) {
	b := req.bucket
	if b == nil {
		panic(lockerrors.NewInvariantError("downgrade of a request that is not in the lock table"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if req.status != StatusGranted || !IsModeCovered(mode, req.mode) || mode == ModeNone {
		panic(lockerrors.NewInvariantError("downgrade of %s from %s to %s", req.resID, req.mode, mode))
	}
	if mode == req.mode {
		return
	}

	h := req.head
	h.incGranted(mode)
	h.decGranted(req.mode)
	req.mode = mode

	req.setPriority(req.resID, mode)
	if !req.compatibleFirst {
		h.uncountCompatibleFirst(req)
	}

	m.onLockModeChanged(h, true)
}

// onLockModeChanged grants whatever became grantable after a change to the
// granted set: first pending conversions, then waiters in queue order.
// Must be called with the bucket locked.
func (m *Manager) onLockModeChanged(h *lockHead, checkConflictQueue bool) {
	resType := h.resID.Type()

	if h.conversionsCount > 0 {
		for e := h.granted.Front(); e != nil; e = e.Next() {
			req := e.Value.(*Request)
			if req.status != StatusConverting {
				continue
			}
			if Conflicts(req.convertMode, h.grantedModesExcluding(req)) {
				continue
			}

			h.conversionsCount--
			h.decGranted(req.mode)
			req.mode = req.convertMode
			req.convertMode = ModeNone
			req.status = StatusGranted
			h.countCompatibleFirst(req)

			m.metrics.AddWaiting(resType, -1)
			req.signal()
		}
	}

	if !checkConflictQueue {
		return
	}

	var next *list.Element
	for e := h.conflicts.Front(); e != nil; e = next {
		next = e.Next()
		req := e.Value.(*Request)
		atFront := e == h.conflicts.Front()

		if Conflicts(req.mode, h.grantedModes) {
			if !h.policy().scansPastBlocked(atFront) {
				break
			}
			continue
		}

		h.dequeue(req)
		h.grant(req)
		req.grantedAt = time.Now()
		if !atFront {
			m.metrics.ObserveCompatibleFirstGrant()
		}
		m.metrics.AddWaiting(resType, -1)
		req.signal()

		// Nothing can be granted alongside X.
		if req.mode == ModeX {
			break
		}
	}
}

// ============================================================================
// Waiting
// ============================================================================

// Wait blocks until req is granted, the timeout elapses or ctx is done.
//
// A zero timeout checks once; a negative timeout (InfiniteTimeout) waits
// without bound. When the wait fails the request is abandoned as if by
// Unlock, unless it was granted in the meantime, in which case Wait returns
// nil.
func (m *Manager) Wait(ctx context.Context, req *Request, timeout time.Duration) error {
	granted, err := m.awaitGrant(ctx, req, timeout)
	if granted {
		return nil
	}
	resID := req.resID
	if m.cancelPending(req) {
		return nil
	}
	if err != nil {
		return err
	}
	return lockerrors.NewTimeoutError(resID.String())
}

// awaitGrant sleeps up to d for req to be granted without abandoning it.
// It returns the context error if ctx finished first.
func (m *Manager) awaitGrant(ctx context.Context, req *Request, d time.Duration) (bool, error) {
	if m.isGranted(req) {
		return true, nil
	}
	if d == 0 {
		return false, nil
	}

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-req.notify:
			if m.isGranted(req) {
				return true, nil
			}
		case <-expired:
			return m.isGranted(req), nil
		case <-ctx.Done():
			return m.isGranted(req), ctx.Err()
		}
	}
}

func (m *Manager) isGranted(req *Request) bool {
	return req.State().Status == StatusGranted
}

// cancelPending abandons a waiting or converting request. It returns true
// if the request turned out to be granted already, in which case nothing is
// abandoned.
func (m *Manager) cancelPending(req *Request) bool {
	b := req.bucket
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.status {
	case StatusGranted:
		return true
	case StatusNew:
		return false
	}

	logger.Debug("Abandoning lock request",
		logger.LockerID(uint64(req.owner)),
		logger.Resource(req.resID.String()),
		logger.LockMode(req.pendingMode().String()))

	m.unlockLocked(b, req)
	return false
}

// pendingMode is the mode a waiting or converting request is blocked on.
func (r *Request) pendingMode() Mode {
	if r.status == StatusConverting {
		return r.convertMode
	}
	return r.mode
}

// ============================================================================
// Diagnostics
// ============================================================================

// RequestInfo describes one request in a dump.
type RequestInfo struct {
	Locker          LockerID `json:"locker"`
	Status          Status   `json:"status"`
	Mode            Mode     `json:"mode"`
	ConvertMode     Mode     `json:"convert_mode,omitempty"`
	RecursiveCount  int      `json:"recursive_count"`
	CompatibleFirst bool     `json:"compatible_first,omitempty"`
}

// HeadInfo describes one resource in a dump.
type HeadInfo struct {
	Resource     ResourceID    `json:"resource"`
	ResourceType string        `json:"resource_type"`
	Name         string        `json:"name,omitempty"`
	Policy       Policy        `json:"policy"`
	Granted      []RequestInfo `json:"granted"`
	Waiting      []RequestInfo `json:"waiting"`
}

// Dump returns the state of every resource in the lock table, ordered by
// resource id. Each bucket is captured consistently; different buckets may
// be captured at slightly different times.
func (m *Manager) Dump() []HeadInfo {
	var heads []HeadInfo

	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.Lock()
		for _, h := range b.heads {
			heads = append(heads, m.describeHead(h))
		}
		b.mu.Unlock()
	}

	sort.Slice(heads, func(i, j int) bool {
		return heads[i].Resource < heads[j].Resource
	})
	return heads
}

func (m *Manager) describeHead(h *lockHead) HeadInfo {
	info := HeadInfo{
		Resource:     h.resID,
		ResourceType: h.resID.Type().String(),
		Policy:       h.policy().kind(),
		Granted:      make([]RequestInfo, 0, h.granted.Len()),
		Waiting:      make([]RequestInfo, 0, h.conflicts.Len()),
	}
	if h.resID.Type() == ResourceMutex {
		info.Name, _ = m.MutexName(h.resID)
	}
	for e := h.granted.Front(); e != nil; e = e.Next() {
		info.Granted = append(info.Granted, describeRequest(e.Value.(*Request)))
	}
	for e := h.conflicts.Front(); e != nil; e = e.Next() {
		info.Waiting = append(info.Waiting, describeRequest(e.Value.(*Request)))
	}
	return info
}

func describeRequest(req *Request) RequestInfo {
	return RequestInfo{
		Locker:          req.owner,
		Status:          req.status,
		Mode:            req.mode,
		ConvertMode:     req.convertMode,
		RecursiveCount:  req.recursiveCount,
		CompatibleFirst: req.countedCompatibleFirst,
	}
}

// PolicyFor returns the grant policy currently in effect for resID.
func (m *Manager) PolicyFor(resID ResourceID) Policy {
	b := m.bucketFor(resID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.heads[resID]; ok {
		return h.policy().kind()
	}
	return PolicyFIFO
}

// WaitForGraph builds a wait-for graph from a consistent snapshot of the
// whole lock table. Every bucket is locked, in index order, while the graph
// is built.
//
// A waiting request waits for every granted request of another owner whose
// mode conflicts with it, and for every conflicting request queued ahead of
// it. A converting request waits for every other holder conflicting with its
// convert mode.
func (m *Manager) WaitForGraph() *WaitForGraph {
	for i := range m.buckets {
		m.buckets[i].mu.Lock()
	}
	defer func() {
		for i := range m.buckets {
			m.buckets[i].mu.Unlock()
		}
	}()

	g := NewWaitForGraph()
	for i := range m.buckets {
		for _, h := range m.buckets[i].heads {
			addHeadEdges(g, h)
		}
	}
	return g
}

func addHeadEdges(g *WaitForGraph, h *lockHead) {
	for e := h.granted.Front(); e != nil; e = e.Next() {
		conv := e.Value.(*Request)
		if conv.status != StatusConverting {
			continue
		}
		var owners []LockerID
		for o := h.granted.Front(); o != nil; o = o.Next() {
			holder := o.Value.(*Request)
			if holder.owner != conv.owner && !Compatible(conv.convertMode, holder.mode) {
				owners = append(owners, holder.owner)
			}
		}
		g.AddWaiter(conv.owner, h.resID, owners)
	}

	for e := h.conflicts.Front(); e != nil; e = e.Next() {
		waiter := e.Value.(*Request)
		var owners []LockerID
		for o := h.granted.Front(); o != nil; o = o.Next() {
			holder := o.Value.(*Request)
			if holder.owner != waiter.owner && !Compatible(waiter.mode, holder.mode) {
				owners = append(owners, holder.owner)
			}
		}
		for o := e.Prev(); o != nil; o = o.Prev() {
			ahead := o.Value.(*Request)
			if ahead.owner != waiter.owner && !Compatible(waiter.mode, ahead.mode) {
				owners = append(owners, ahead.owner)
			}
		}
		g.AddWaiter(waiter.owner, h.resID, owners)
	}
}

// ============================================================================
// Resource Mutexes
// ============================================================================

// mutexRegistry remembers the label of every named mutex resource.
type mutexRegistry struct {
	mu     sync.Mutex
	byName map[string]ResourceID
	names  map[ResourceID]string
}

// ResourceMutex returns the Mutex resource for name, registering its label.
// Calls with the same name return the same resource.
func (m *Manager) ResourceMutex(name string) ResourceID {
	m.mutexes.mu.Lock()
	defer m.mutexes.mu.Unlock()

	if id, ok := m.mutexes.byName[name]; ok {
		return id
	}
	id := NewResourceID(ResourceMutex, name)
	m.mutexes.byName[name] = id
	m.mutexes.names[id] = name
	return id
}

// MutexName returns the label a Mutex resource was registered with.
func (m *Manager) MutexName(id ResourceID) (string, bool) {
	m.mutexes.mu.Lock()
	defer m.mutexes.mu.Unlock()

	name, ok := m.mutexes.names[id]
	return name, ok
}
