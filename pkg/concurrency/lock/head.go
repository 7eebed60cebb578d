package lock

import (
	"container/list"
	"sync"
)

// ============================================================================
// Lock Head
// ============================================================================

// lockHead is the per-resource state: the granted set, the wait queue and
// per-mode counts. All fields are guarded by the owning bucket's mutex.
type lockHead struct {
	resID ResourceID

	// granted holds GRANTED and CONVERTING requests.
	granted       list.List
	grantedCounts [modeCount]int
	grantedModes  uint32

	// conflicts is the FIFO wait queue of WAITING requests.
	conflicts      list.List
	conflictCounts [modeCount]int
	conflictModes  uint32

	conversionsCount     int
	compatibleFirstCount int
}

func newLockHead(resID ResourceID) *lockHead {
	h := &lockHead{resID: resID}
	h.granted.Init()
	h.conflicts.Init()
	return h
}

func (h *lockHead) policy() grantPolicy {
	if h.compatibleFirstCount > 0 {
		return compatibleFirstPolicy{}
	}
	return fifoPolicy{}
}

func (h *lockHead) empty() bool {
	return h.granted.Len() == 0 && h.conflicts.Len() == 0
}

func (h *lockHead) incGranted(m Mode) {
	h.grantedCounts[m]++
	if h.grantedCounts[m] == 1 {
		h.grantedModes |= modeMask(m)
	}
}

func (h *lockHead) decGranted(m Mode) {
	h.grantedCounts[m]--
	if h.grantedCounts[m] == 0 {
		h.grantedModes &^= modeMask(m)
	}
}

func (h *lockHead) incConflict(m Mode) {
	h.conflictCounts[m]++
	if h.conflictCounts[m] == 1 {
		h.conflictModes |= modeMask(m)
	}
}

func (h *lockHead) decConflict(m Mode) {
	h.conflictCounts[m]--
	if h.conflictCounts[m] == 0 {
		h.conflictModes &^= modeMask(m)
	}
}

// grantedModesExcluding returns the granted mask with req's own contribution
// (its mode and, while converting, its convert mode) taken out.
func (h *lockHead) grantedModesExcluding(req *Request) uint32 {
	var mask uint32
	for m := ModeIS; m < modeCount; m++ {
		own := 0
		if req.mode == m {
			own++
		}
		if req.status == StatusConverting && req.convertMode == m {
			own++
		}
		if h.grantedCounts[m] > own {
			mask |= modeMask(m)
		}
	}
	return mask
}

// enqueue places req on the wait queue.
func (h *lockHead) enqueue(req *Request) {
	req.status = StatusWaiting
	if req.enqueueAtFront {
		req.elem = h.conflicts.PushFront(req)
	} else {
		req.elem = h.conflicts.PushBack(req)
	}
	h.incConflict(req.mode)
}

// dequeue removes a WAITING req from the wait queue.
func (h *lockHead) dequeue(req *Request) {
	h.conflicts.Remove(req.elem)
	req.elem = nil
	h.decConflict(req.mode)
}

// grant moves req into the granted set.
func (h *lockHead) grant(req *Request) {
	req.status = StatusGranted
	req.elem = h.granted.PushBack(req)
	h.incGranted(req.mode)
	h.countCompatibleFirst(req)
}

// release removes a GRANTED req from the granted set.
func (h *lockHead) release(req *Request) {
	h.granted.Remove(req.elem)
	req.elem = nil
	h.decGranted(req.mode)
	h.uncountCompatibleFirst(req)
}

func (h *lockHead) countCompatibleFirst(req *Request) {
	if req.compatibleFirst && !req.countedCompatibleFirst {
		h.compatibleFirstCount++
		req.countedCompatibleFirst = true
	}
}

func (h *lockHead) uncountCompatibleFirst(req *Request) {
	if req.countedCompatibleFirst {
		h.compatibleFirstCount--
		req.countedCompatibleFirst = false
	}
}

// ============================================================================
// Buckets
// ============================================================================

// bucket is one partition of the lock table.
type bucket struct {
	mu    sync.Mutex
	heads map[ResourceID]*lockHead
}

func (b *bucket) findOrCreate(resID ResourceID) *lockHead {
	h, ok := b.heads[resID]
	if !ok {
		h = newLockHead(resID)
		b.heads[resID] = h
	}
	return h
}

func (b *bucket) cleanup(h *lockHead) {
	if h.empty() {
		delete(b.heads, h.resID)
	}
}
