package lock

import (
	"container/list"
	"fmt"
	"time"
)

// LockerID identifies the owner of a request.
type LockerID uint64

// Status is the state of a Request inside the manager.
type Status uint8

const (
	// StatusNew means the request is not known to the manager.
	StatusNew Status = iota
	// StatusGranted means the request holds its mode.
	StatusGranted
	// StatusWaiting means the request is queued behind conflicting holders.
	StatusWaiting
	// StatusConverting means the request holds its mode and waits to be
	// upgraded to its convert mode.
	StatusConverting
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusGranted:
		return "granted"
	case StatusWaiting:
		return "waiting"
	case StatusConverting:
		return "converting"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request is one owner's claim on one resource.
//
// A Request is created by its owner and handed to the Manager. All fields
// are guarded by the mutex of the bucket the request currently lives in;
// use State to read them from outside the manager.
type Request struct {
	owner LockerID
	resID ResourceID

	bucket *bucket
	head   *lockHead
	elem   *list.Element

	status         Status
	mode           Mode
	convertMode    Mode
	recursiveCount int

	// compatibleFirst requests switch their head to the compatible-first
	// policy while granted; enqueueAtFront requests jump the wait queue.
	compatibleFirst        bool
	enqueueAtFront         bool
	countedCompatibleFirst bool

	grantedAt time.Time

	// notify receives a token whenever the request transitions to granted.
	notify chan struct{}
}

// NewRequest creates a request owned by owner.
func NewRequest(owner LockerID) *Request {
	return &Request{
		owner:  owner,
		notify: make(chan struct{}, 1),
	}
}

// RequestState is a consistent copy of a request's fields.
type RequestState struct {
	Resource       ResourceID `json:"resource"`
	Status         Status     `json:"status"`
	Mode           Mode       `json:"mode"`
	ConvertMode    Mode       `json:"convert_mode,omitempty"`
	RecursiveCount int        `json:"recursive_count"`
}

// Owner returns the id of the locker that created the request.
func (r *Request) Owner() LockerID {
	return r.owner
}

// State returns a consistent snapshot of the request.
func (r *Request) State() RequestState {
	if b := r.bucket; b != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
	}
	return r.stateLocked()
}

func (r *Request) stateLocked() RequestState {
	return RequestState{
		Resource:       r.resID,
		Status:         r.status,
		Mode:           r.mode,
		ConvertMode:    r.convertMode,
		RecursiveCount: r.recursiveCount,
	}
}

// heldMode returns the mode the request currently holds, or ModeNone.
func (r *Request) heldMode() Mode {
	st := r.State()
	if st.Status == StatusGranted || st.Status == StatusConverting {
		return st.Mode
	}
	return ModeNone
}

// signal wakes the owner without blocking. Must be called with the bucket locked.
func (r *Request) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// drain discards a stale wake-up left over from a previous acquisition.
func (r *Request) drain() {
	select {
	case <-r.notify:
	default:
	}
}

// setPriority marks strong Global and flush requests as compatible-first and
// enqueue-at-front, so that operations such as shutdown are not stalled behind
// a stream of intent requests.
func (r *Request) setPriority(resID ResourceID, mode Mode) {
	priority := false
	if t := resID.Type(); t == ResourceGlobal || t == ResourceFlush {
		priority = mode == ModeS || mode == ModeX
	}
	r.compatibleFirst = priority
	r.enqueueAtFront = priority
}

// reset returns a fully released request to StatusNew. The bucket pointer is
// kept: a request never moves between buckets.
func (r *Request) reset() {
	r.head = nil
	r.elem = nil
	r.status = StatusNew
	r.mode = ModeNone
	r.convertMode = ModeNone
	r.recursiveCount = 0
	r.compatibleFirst = false
	r.enqueueAtFront = false
	r.countedCompatibleFirst = false
	r.grantedAt = time.Time{}
}
