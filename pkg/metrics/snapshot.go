package metrics

import (
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
)

// NewSnapshotMetrics creates a Prometheus-backed snapshot.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to snapshot.Open,
// which results in zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	store, err := snapshot.Open(cfg, metrics.NewSnapshotMetrics())
func NewSnapshotMetrics() snapshot.Metrics {
	if !IsEnabled() || newPrometheusSnapshotMetrics == nil {
		return nil
	}
	return newPrometheusSnapshotMetrics()
}

// newPrometheusSnapshotMetrics is implemented in pkg/metrics/prometheus/snapshot.go
// This indirection avoids import cycles while keeping the API clean
var newPrometheusSnapshotMetrics func() snapshot.Metrics

// RegisterSnapshotMetricsConstructor registers the Prometheus snapshot metrics constructor.
// Called by pkg/metrics/prometheus/snapshot.go during package initialization.
func RegisterSnapshotMetricsConstructor(constructor func() snapshot.Metrics) {
	newPrometheusSnapshotMetrics = constructor
}
