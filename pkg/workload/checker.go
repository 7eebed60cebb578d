package workload

import (
	"sync"
	"sync/atomic"
)

// exclusivityChecker verifies, from the outside, that the lock manager never
// lets an X holder overlap with any other S or X holder of the same resource.
// Clients enter after acquiring and leave before releasing.
type exclusivityChecker struct {
	mu         sync.Mutex
	resources  map[string]*holders
	violations atomic.Int64
}

type holders struct {
	readers atomic.Int32
	writers atomic.Int32
}

func newExclusivityChecker() *exclusivityChecker {
	return &exclusivityChecker{resources: make(map[string]*holders)}
}

func (c *exclusivityChecker) get(resource string) *holders {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.resources[resource]
	if !ok {
		h = &holders{}
		c.resources[resource] = h
	}
	return h
}

func (c *exclusivityChecker) enterShared(resource string) {
	h := c.get(resource)
	h.readers.Add(1)
	if h.writers.Load() > 0 {
		c.violations.Add(1)
	}
}

func (c *exclusivityChecker) leaveShared(resource string) {
	c.get(resource).readers.Add(-1)
}

func (c *exclusivityChecker) enterExclusive(resource string) {
	h := c.get(resource)
	if h.writers.Add(1) > 1 || h.readers.Load() > 0 {
		c.violations.Add(1)
	}
}

func (c *exclusivityChecker) leaveExclusive(resource string) {
	c.get(resource).writers.Add(-1)
}

func (c *exclusivityChecker) Violations() int64 {
	return c.violations.Load()
}
