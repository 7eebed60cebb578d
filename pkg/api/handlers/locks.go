package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// LocksHandler exposes the lock table for debugging.
type LocksHandler struct {
	manager *lock.Manager
	tickets *lock.TicketHolder
}

// NewLocksHandler creates a new locks handler. tickets may be nil when
// throttling is not configured.
func NewLocksHandler(manager *lock.Manager, tickets *lock.TicketHolder) *LocksHandler {
	return &LocksHandler{manager: manager, tickets: tickets}
}

// Dump handles GET /debug/locks.
//
// The optional "type" query parameter keeps only resources of that type
// (global, flush, database, collection, mutex; case-insensitive). The
// optional "waiting" parameter set to "true" keeps only contended resources.
func (h *LocksHandler) Dump(w http.ResponseWriter, r *http.Request) {
	typeFilter := strings.ToLower(r.URL.Query().Get("type"))
	if typeFilter != "" && !validResourceType(typeFilter) {
		BadRequest(w, "unknown resource type: "+typeFilter)
		return
	}
	waitingOnly := r.URL.Query().Get("waiting") == "true"

	heads := make([]lock.HeadInfo, 0)
	for _, head := range h.manager.Dump() {
		if typeFilter != "" && strings.ToLower(head.ResourceType) != typeFilter {
			continue
		}
		if waitingOnly && len(head.Waiting) == 0 {
			continue
		}
		heads = append(heads, head)
	}

	writeJSON(w, http.StatusOK, okResponse(heads))
}

func validResourceType(s string) bool {
	for _, t := range []lock.ResourceType{
		lock.ResourceGlobal,
		lock.ResourceFlush,
		lock.ResourceDatabase,
		lock.ResourceCollection,
		lock.ResourceMutex,
	} {
		if strings.ToLower(t.String()) == s {
			return true
		}
	}
	return false
}

// DeadlockReport is the payload of GET /debug/deadlocks.
type DeadlockReport struct {
	Waiters    int             `json:"waiters"`
	Deadlocked []lock.LockerID `json:"deadlocked"`
	Edges      []lock.WaitEdge `json:"edges"`
}

// Deadlocks handles GET /debug/deadlocks. It builds the wait-for graph from a
// consistent snapshot of the lock table and reports every locker on a cycle.
func (h *LocksHandler) Deadlocks(w http.ResponseWriter, r *http.Request) {
	g := h.manager.WaitForGraph()

	report := DeadlockReport{
		Waiters:    g.Size(),
		Deadlocked: g.Deadlocked(),
		Edges:      g.Edges(),
	}
	if report.Deadlocked == nil {
		report.Deadlocked = []lock.LockerID{}
	}

	writeJSON(w, http.StatusOK, okResponse(report))
}

// TicketStatus is the payload of GET /debug/tickets.
type TicketStatus struct {
	Enabled     bool `json:"enabled"`
	Capacity    int  `json:"capacity"`
	Outstanding int  `json:"outstanding"`
	Available   int  `json:"available"`
}

// Tickets handles GET /debug/tickets.
func (h *LocksHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	if h.tickets == nil {
		writeJSON(w, http.StatusOK, okResponse(TicketStatus{}))
		return
	}

	writeJSON(w, http.StatusOK, okResponse(TicketStatus{
		Enabled:     true,
		Capacity:    h.tickets.Capacity(),
		Outstanding: h.tickets.Outstanding(),
		Available:   h.tickets.Available(),
	}))
}

// Policy handles GET /debug/locks/{resource}/policy for the Global and Flush
// singletons, which are the only resources whose policy can change.
func (h *LocksHandler) Policy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")

	var resID lock.ResourceID
	switch strings.ToLower(name) {
	case "global":
		resID = lock.ResourceIDGlobal
	case "flush":
		resID = lock.ResourceIDFlush
	default:
		NotFound(w, "no policy for resource: "+name)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(map[string]string{
		"resource": resID.String(),
		"policy":   h.manager.PolicyFor(resID).String(),
	}))
}
