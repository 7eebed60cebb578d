package lock

import (
	"sort"
	"sync"
)

// ============================================================================
// Wait-For Graph Deadlock Detection
// ============================================================================

// WaitForGraph records which lockers are blocked on which other lockers.
//
// Nodes are lockers; an edge A -> B means A waits for a lock held (or queued
// ahead) by B. A cycle is a deadlock.
//
// Example deadlock:
//   - Locker 1 holds db1 X, waits for db2 X (held by 2)
//   - Locker 2 holds db2 X, waits for db1 X (held by 1)
//   - Graph: 1 -> 2 -> 1
//
// Graphs are built by Manager.WaitForGraph from a consistent snapshot of the
// lock table and are not updated afterwards.
//
// Thread Safety:
// WaitForGraph is safe for concurrent use by multiple goroutines.
type WaitForGraph struct {
	mu sync.RWMutex

	// edges maps waiter -> set of lockers being waited on
	edges map[LockerID]map[LockerID]struct{}

	// blockedOn maps waiter -> resource it is blocked on
	blockedOn map[LockerID]ResourceID
}

// NewWaitForGraph creates an empty graph.
func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{
		edges:     make(map[LockerID]map[LockerID]struct{}),
		blockedOn: make(map[LockerID]ResourceID),
	}
}

// AddWaiter records that waiter, blocked on resID, waits for every locker in owners.
func (wfg *WaitForGraph) AddWaiter(waiter LockerID, resID ResourceID, owners []LockerID) {
	if len(owners) == 0 {
		return
	}

	wfg.mu.Lock()
	defer wfg.mu.Unlock()

	waitSet, exists := wfg.edges[waiter]
	if !exists {
		waitSet = make(map[LockerID]struct{})
		wfg.edges[waiter] = waitSet
	}
	for _, owner := range owners {
		waitSet[owner] = struct{}{}
	}
	wfg.blockedOn[waiter] = resID
}

// WouldCauseCycle reports whether adding edges from waiter to owners would
// close a cycle, i.e. whether waiter is reachable from any of owners.
func (wfg *WaitForGraph) WouldCauseCycle(waiter LockerID, owners []LockerID) bool {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()

	for _, owner := range owners {
		if owner == waiter || wfg.canReach(owner, waiter, make(map[LockerID]bool)) {
			return true
		}
	}
	return false
}

// InCycle reports whether id is part of a wait-for cycle.
func (wfg *WaitForGraph) InCycle(id LockerID) bool {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()

	return wfg.canReach(id, id, make(map[LockerID]bool))
}

// Deadlocked returns every locker that is part of a cycle, in ascending order.
func (wfg *WaitForGraph) Deadlocked() []LockerID {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()

	var ids []LockerID
	for waiter := range wfg.edges {
		if wfg.canReach(waiter, waiter, make(map[LockerID]bool)) {
			ids = append(ids, waiter)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WaitersFor returns the lockers waiting for owner, in ascending order.
func (wfg *WaitForGraph) WaitersFor(owner LockerID) []LockerID {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()

	var waiters []LockerID
	for waiter, waitSet := range wfg.edges {
		if _, waiting := waitSet[owner]; waiting {
			waiters = append(waiters, waiter)
		}
	}
	sort.Slice(waiters, func(i, j int) bool { return waiters[i] < waiters[j] })
	return waiters
}

// WaitEdge is one waiter's outgoing edges.
type WaitEdge struct {
	Waiter    LockerID   `json:"waiter"`
	Resource  ResourceID `json:"resource"`
	WaitingOn []LockerID `json:"waiting_on"`
}

// Edges returns the graph as a list ordered by waiter.
func (wfg *WaitForGraph) Edges() []WaitEdge {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()

	edges := make([]WaitEdge, 0, len(wfg.edges))
	for waiter, waitSet := range wfg.edges {
		e := WaitEdge{Waiter: waiter, Resource: wfg.blockedOn[waiter]}
		for owner := range waitSet {
			e.WaitingOn = append(e.WaitingOn, owner)
		}
		sort.Slice(e.WaitingOn, func(i, j int) bool { return e.WaitingOn[i] < e.WaitingOn[j] })
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Waiter < edges[j].Waiter })
	return edges
}

// Size returns the number of lockers currently waiting.
func (wfg *WaitForGraph) Size() int {
	wfg.mu.RLock()
	defer wfg.mu.RUnlock()
	return len(wfg.edges)
}

// canReach performs DFS to check if we can reach 'to' from 'from'.
// Must be called with at least RLock held.
func (wfg *WaitForGraph) canReach(from, to LockerID, visited map[LockerID]bool) bool {
	if visited[from] {
		return false
	}
	visited[from] = true

	waitSet, exists := wfg.edges[from]
	if !exists {
		return false
	}

	if _, waiting := waitSet[to]; waiting {
		return true
	}

	for waitingFor := range waitSet {
		if wfg.canReach(waitingFor, to, visited) {
			return true
		}
	}
	return false
}
