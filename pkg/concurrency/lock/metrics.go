package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for the Lock Manager
// ============================================================================

// Label constants for metrics.
const (
	LabelResourceType = "resource_type"
	LabelMode         = "mode"
	LabelStatus       = "status"
)

// Status constants for lock acquisitions.
const (
	StatusLabelGranted  = "granted"
	StatusLabelWaiting  = "waiting"
	StatusLabelTimeout  = "timeout"
	StatusLabelDeadlock = "deadlock"
	StatusLabelCanceled = "canceled"
)

// Metrics provides Prometheus metrics for lock acquisition and ticket usage.
//
// All methods are nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	// Acquisition counters
	acquireTotal *prometheus.CounterVec
	releaseTotal *prometheus.CounterVec

	// Queue state
	waitingGauge *prometheus.GaugeVec

	// Timing histograms
	waitDuration *prometheus.HistogramVec
	holdDuration *prometheus.HistogramVec

	// Policy and deadlock counters
	compatibleFirstGrants prometheus.Counter
	deadlockDetected      prometheus.Counter

	// Ticket gauges
	ticketsOutstanding prometheus.Gauge
	ticketsCapacity    prometheus.Gauge

	// Flag to track if metrics are registered
	registered bool
}

// NewMetrics creates and registers lock metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "acquire_total",
				Help:      "Total number of lock acquisition outcomes",
			},
			[]string{LabelResourceType, LabelMode, LabelStatus},
		),

		releaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "release_total",
				Help:      "Total number of full lock releases",
			},
			[]string{LabelResourceType},
		),

		waitingGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "waiting",
				Help:      "Number of lock requests currently queued",
			},
			[]string{LabelResourceType},
		),

		waitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "wait_duration_seconds",
				Help:      "Time spent blocked waiting for a lock",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{LabelResourceType, LabelMode},
		),

		holdDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "hold_duration_seconds",
				Help:      "Time a lock was held before its final release",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
			},
			[]string{LabelResourceType, LabelMode},
		),

		compatibleFirstGrants: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "compatible_first_grants_total",
				Help:      "Number of grants that bypassed a blocked waiter under the compatible-first policy",
			},
		),

		deadlockDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "deadlock_detected_total",
				Help:      "Number of deadlocks detected",
			},
		),

		ticketsOutstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "tickets",
				Name:      "outstanding",
				Help:      "Number of global lock tickets currently handed out",
			},
		),

		ticketsCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "tickets",
				Name:      "capacity",
				Help:      "Configured number of global lock tickets",
			},
		),
	}

	// Register with registry if provided
	if registry != nil {
		registry.MustRegister(
			m.acquireTotal,
			m.releaseTotal,
			m.waitingGauge,
			m.waitDuration,
			m.holdDuration,
			m.compatibleFirstGrants,
			m.deadlockDetected,
			m.ticketsOutstanding,
			m.ticketsCapacity,
		)
		m.registered = true
	}

	return m
}

// ============================================================================
// Lock Operation Metrics
// ============================================================================

// ObserveAcquire records the outcome of an acquisition attempt.
func (m *Metrics) ObserveAcquire(t ResourceType, mode Mode, status string) {
	if m == nil {
		return
	}
	m.acquireTotal.WithLabelValues(t.String(), mode.String(), status).Inc()
}

// ObserveRelease records a full release.
func (m *Metrics) ObserveRelease(t ResourceType) {
	if m == nil {
		return
	}
	m.releaseTotal.WithLabelValues(t.String()).Inc()
}

// AddWaiting adjusts the number of queued requests.
func (m *Metrics) AddWaiting(t ResourceType, delta float64) {
	if m == nil {
		return
	}
	m.waitingGauge.WithLabelValues(t.String()).Add(delta)
}

// ObserveWaitDuration records time spent blocked.
func (m *Metrics) ObserveWaitDuration(t ResourceType, mode Mode, d time.Duration) {
	if m == nil {
		return
	}
	m.waitDuration.WithLabelValues(t.String(), mode.String()).Observe(d.Seconds())
}

// ObserveHoldDuration records how long a lock was held.
func (m *Metrics) ObserveHoldDuration(t ResourceType, mode Mode, d time.Duration) {
	if m == nil {
		return
	}
	m.holdDuration.WithLabelValues(t.String(), mode.String()).Observe(d.Seconds())
}

// ObserveCompatibleFirstGrant records a grant that skipped a blocked waiter.
func (m *Metrics) ObserveCompatibleFirstGrant() {
	if m == nil {
		return
	}
	m.compatibleFirstGrants.Inc()
}

// ObserveDeadlock records a detected deadlock.
func (m *Metrics) ObserveDeadlock() {
	if m == nil {
		return
	}
	m.deadlockDetected.Inc()
}

// ============================================================================
// Ticket Metrics
// ============================================================================

// SetTicketsOutstanding sets the number of outstanding tickets.
func (m *Metrics) SetTicketsOutstanding(n int) {
	if m == nil {
		return
	}
	m.ticketsOutstanding.Set(float64(n))
}

// SetTicketCapacity sets the configured ticket capacity.
func (m *Metrics) SetTicketCapacity(n int) {
	if m == nil {
		return
	}
	m.ticketsCapacity.Set(float64(n))
}

// ============================================================================
// Collector Interface (optional)
// ============================================================================

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}

	m.acquireTotal.Describe(ch)
	m.releaseTotal.Describe(ch)
	m.waitingGauge.Describe(ch)
	m.waitDuration.Describe(ch)
	m.holdDuration.Describe(ch)
	ch <- m.compatibleFirstGrants.Desc()
	ch <- m.deadlockDetected.Desc()
	ch <- m.ticketsOutstanding.Desc()
	ch <- m.ticketsCapacity.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}

	m.acquireTotal.Collect(ch)
	m.releaseTotal.Collect(ch)
	m.waitingGauge.Collect(ch)
	m.waitDuration.Collect(ch)
	m.holdDuration.Collect(ch)
	m.compatibleFirstGrants.Collect(ch)
	m.deadlockDetected.Collect(ch)
	m.ticketsOutstanding.Collect(ch)
	m.ticketsCapacity.Collect(ch)
}
