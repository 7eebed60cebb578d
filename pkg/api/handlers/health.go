package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// Checker is implemented by backing stores that can report their health.
type Checker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
//   - Liveness probe: Is the process serving HTTP?
//   - Readiness probe: Is the lock manager wired and the store healthy?
type HealthHandler struct {
	manager *lock.Manager
	store   Checker
}

// NewHealthHandler creates a new health handler. store may be nil when no
// snapshot store is configured.
func NewHealthHandler(manager *lock.Manager, store Checker) *HealthHandler {
	return &HealthHandler{manager: manager, store: store}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittolock",
	}))
}

// ReadinessStatus is the payload of a successful readiness probe.
type ReadinessStatus struct {
	Resources    int    `json:"resources"`
	Store        string `json:"store"`
	StoreLatency string `json:"store_latency,omitempty"`
}

// Readiness handles GET /health/ready.
//
// Returns 503 Service Unavailable if no manager is wired or the snapshot
// store fails its healthcheck.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("lock manager not initialized"))
		return
	}

	status := ReadinessStatus{
		Resources: len(h.manager.Dump()),
		Store:     "none",
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		if err := h.store.Healthcheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store: "+err.Error()))
			return
		}
		status.Store = "healthy"
		status.StoreLatency = time.Since(start).String()
	}

	writeJSON(w, http.StatusOK, healthyResponse(status))
}
