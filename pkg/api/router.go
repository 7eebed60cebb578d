package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/api/handlers"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// Dependencies are the components the router exposes.
type Dependencies struct {
	// Manager is required.
	Manager *lock.Manager

	// Tickets is the ticket holder, or nil when throttling is off.
	Tickets *lock.TicketHolder

	// Store is checked by the readiness probe. May be nil.
	Store handlers.Checker

	// Registry backs GET /metrics. Nil disables the endpoint.
	Registry *prometheus.Registry
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /debug/locks - Lock table dump (?type=, ?waiting=true)
//   - GET /debug/locks/{resource}/policy - Grant policy of Global or Flush
//   - GET /debug/deadlocks - Wait-for graph and deadlocked lockers
//   - GET /debug/tickets - Ticket holder usage
//   - GET /metrics - Prometheus exposition (when a registry is set)
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Manager, deps.Store)
	locksHandler := handlers.NewLocksHandler(deps.Manager, deps.Tickets)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/locks", locksHandler.Dump)
		r.Get("/locks/{resource}/policy", locksHandler.Policy)
		r.Get("/deadlocks", locksHandler.Deadlocks)
		r.Get("/tickets", locksHandler.Tickets)
	})

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{
			Registry: deps.Registry,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestID propagates X-Request-Id or assigns a fresh UUID, storing it
// where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs request start at debug and completion at info.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.RequestID(id),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.ClientIP(r.RemoteAddr))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			logger.RequestID(id),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Status(ww.Status()),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(logger.Duration(start)))
	})
}
