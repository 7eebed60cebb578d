// Package prometheus provides the Prometheus implementations behind the
// constructors in pkg/metrics. Import it for its side effects.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittolock/pkg/metrics"
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
)

func init() {
	metrics.RegisterSnapshotMetricsConstructor(func() snapshot.Metrics {
		return NewSnapshotMetrics(metrics.GetRegistry())
	})
}

// snapshotMetrics is the Prometheus implementation of snapshot.Metrics.
type snapshotMetrics struct {
	snapshots    *prometheus.CounterVec
	reads        *prometheus.CounterVec
	writes       *prometheus.CounterVec
	readLatency  prometheus.Histogram
	writeLatency prometheus.Histogram
}

// NewSnapshotMetrics registers the snapshot store metrics with reg.
func NewSnapshotMetrics(reg prometheus.Registerer) *snapshotMetrics {
	return &snapshotMetrics{
		snapshots: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolock_snapshot_transitions_total",
				Help: "Read snapshots opened and abandoned",
			},
			[]string{"event"}, // "opened", "abandoned"
		),
		reads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolock_snapshot_reads_total",
				Help: "Snapshot reads by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
		writes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolock_snapshot_writes_total",
				Help: "Snapshot store writes by status",
			},
			[]string{"status"}, // "ok", "error"
		),
		readLatency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittolock_snapshot_read_duration_seconds",
				Help:    "Latency of snapshot reads",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
		writeLatency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittolock_snapshot_write_duration_seconds",
				Help:    "Latency of snapshot store writes",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
	}
}

func (m *snapshotMetrics) ObserveSnapshotOpened() {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues("opened").Inc()
}

func (m *snapshotMetrics) ObserveSnapshotAbandoned() {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues("abandoned").Inc()
}

func (m *snapshotMetrics) ObserveRead(hit bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reads.WithLabelValues(result).Inc()
	m.readLatency.Observe(d.Seconds())
}

func (m *snapshotMetrics) ObserveWrite(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.writes.WithLabelValues(status).Inc()
	m.writeLatency.Observe(d.Seconds())
}
