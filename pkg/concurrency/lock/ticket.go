package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
)

// InfiniteTimeout makes an acquisition block until it is granted or its
// context is cancelled. Any negative timeout behaves the same way.
const InfiniteTimeout time.Duration = -1

// ticketPoolSize is the fixed weight of the underlying semaphore. Everything
// above the configured capacity is held back as a reserve so that resizing is
// a matter of releasing or re-acquiring part of the reserve.
const ticketPoolSize = 1 << 20

// TicketHolder bounds the number of concurrent strong (S or X) holders of the
// Global resource.
//
// Thread Safety:
// TicketHolder is safe for concurrent use by multiple goroutines.
type TicketHolder struct {
	sem *semaphore.Weighted

	// resizeMu serializes Resize calls.
	resizeMu sync.Mutex
	capacity atomic.Int64

	outstanding atomic.Int64
	metrics     *Metrics
}

// TicketOption configures a TicketHolder.
type TicketOption func(*TicketHolder)

// WithTicketMetrics reports outstanding and capacity gauges to m.
func WithTicketMetrics(m *Metrics) TicketOption {
	return func(th *TicketHolder) {
		th.metrics = m
	}
}

// NewTicketHolder creates a holder admitting at most capacity concurrent tickets.
func NewTicketHolder(capacity int, opts ...TicketOption) *TicketHolder {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > ticketPoolSize {
		capacity = ticketPoolSize
	}

	th := &TicketHolder{sem: semaphore.NewWeighted(ticketPoolSize)}
	for _, opt := range opts {
		opt(th)
	}

	// A fresh semaphore has no holders, so the reserve is always available.
	th.sem.TryAcquire(int64(ticketPoolSize - capacity))
	th.capacity.Store(int64(capacity))
	th.metrics.SetTicketCapacity(capacity)
	th.metrics.SetTicketsOutstanding(0)

	return th
}

// Capacity returns the configured number of tickets.
func (th *TicketHolder) Capacity() int {
	return int(th.capacity.Load())
}

// Outstanding returns the number of tickets currently handed out.
func (th *TicketHolder) Outstanding() int {
	return int(th.outstanding.Load())
}

// Available returns the number of tickets that could be handed out right now.
func (th *TicketHolder) Available() int {
	avail := th.Capacity() - th.Outstanding()
	if avail < 0 {
		return 0
	}
	return avail
}

// TryAcquire obtains a ticket without blocking.
func (th *TicketHolder) TryAcquire() bool {
	if !th.sem.TryAcquire(1) {
		return false
	}
	th.acquired()
	return true
}

// Acquire obtains a ticket, waiting up to timeout.
//
// A zero timeout tries once. A negative timeout (InfiniteTimeout) waits until
// a ticket is available or ctx is done. Returns a LockTimeout error when the
// timeout elapses, or the context error if ctx was cancelled first.
func (th *TicketHolder) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		if th.TryAcquire() {
			return nil
		}
		return lockerrors.NewTicketTimeoutError()
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := th.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return lockerrors.NewTicketTimeoutError()
	}

	th.acquired()
	return nil
}

// Release returns a ticket obtained by TryAcquire or Acquire.
func (th *TicketHolder) Release() {
	n := th.outstanding.Add(-1)
	if n < 0 {
		panic(lockerrors.NewInvariantError("ticket released more times than acquired"))
	}
	th.metrics.SetTicketsOutstanding(int(n))
	th.sem.Release(1)
}

// Resize changes the number of tickets. Growing takes effect immediately;
// shrinking waits until enough outstanding tickets have been returned, and
// new acquirers queue behind the shrink so that outstanding never exceeds the
// new capacity once Resize returns.
func (th *TicketHolder) Resize(ctx context.Context, capacity int) error {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > ticketPoolSize {
		capacity = ticketPoolSize
	}

	th.resizeMu.Lock()
	defer th.resizeMu.Unlock()

	current := int(th.capacity.Load())
	switch {
	case capacity > current:
		th.sem.Release(int64(capacity - current))
	case capacity < current:
		if err := th.sem.Acquire(ctx, int64(current-capacity)); err != nil {
			return err
		}
	default:
		return nil
	}

	th.capacity.Store(int64(capacity))
	th.metrics.SetTicketCapacity(capacity)
	return nil
}

// Close verifies that every ticket has been returned.
func (th *TicketHolder) Close() error {
	if n := th.outstanding.Load(); n != 0 {
		return lockerrors.NewInvariantError("ticket holder closed with %d outstanding ticket(s)", n)
	}
	return nil
}

func (th *TicketHolder) acquired() {
	n := th.outstanding.Add(1)
	th.metrics.SetTicketsOutstanding(int(n))
}
