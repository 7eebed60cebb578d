package lock

import "fmt"

// ============================================================================
// Grant Policy
// ============================================================================

// Policy is the grant discipline currently in effect for a resource.
type Policy uint8

const (
	// PolicyFIFO grants waiters strictly in queue order: a new request
	// waits if it conflicts with any granted or queued request.
	PolicyFIFO Policy = iota

	// PolicyCompatibleFirst grants any request compatible with the granted
	// modes, even if conflicting requests are queued ahead of it.
	PolicyCompatibleFirst
)

func (p Policy) String() string {
	switch p {
	case PolicyFIFO:
		return "FIFO"
	case PolicyCompatibleFirst:
		return "compatible-first"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// grantPolicy decides how the wait queue is treated. A head switches to the
// compatible-first strategy while at least one compatible-first request is
// granted on it.
type grantPolicy interface {
	kind() Policy

	// admitsPastQueue reports whether a new request compatible with the
	// granted modes may be granted although conflicting requests are queued.
	admitsPastQueue() bool

	// scansPastBlocked reports whether a queue scan continues after a waiter
	// that cannot be granted.
	scansPastBlocked(atFront bool) bool
}

type fifoPolicy struct{}

func (fifoPolicy) kind() Policy                       { return PolicyFIFO }
func (fifoPolicy) admitsPastQueue() bool              { return false }
func (fifoPolicy) scansPastBlocked(atFront bool) bool { return !atFront }

type compatibleFirstPolicy struct{}

func (compatibleFirstPolicy) kind() Policy                 { return PolicyCompatibleFirst }
func (compatibleFirstPolicy) admitsPastQueue() bool        { return true }
func (compatibleFirstPolicy) scansPastBlocked(_ bool) bool { return true }
