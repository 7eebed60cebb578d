package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/pkg/storage/snapshot"
)

type fakeSnapshotMetrics struct{}

func (fakeSnapshotMetrics) ObserveSnapshotOpened()            {}
func (fakeSnapshotMetrics) ObserveSnapshotAbandoned()         {}
func (fakeSnapshotMetrics) ObserveRead(bool, time.Duration)   {}
func (fakeSnapshotMetrics) ObserveWrite(time.Duration, error) {}

func TestRegistry(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())
	assert.Nil(t, NewSnapshotMetrics(), "disabled metrics yield nil")

	reg := InitRegistry()
	require.NotNil(t, reg)
	assert.True(t, IsEnabled())
	assert.Same(t, reg, InitRegistry())
	assert.Same(t, reg, GetRegistry())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "runtime collectors registered")
}

func TestNewSnapshotMetrics_Constructor(t *testing.T) {
	resetRegistry()
	saved := newPrometheusSnapshotMetrics
	t.Cleanup(func() {
		resetRegistry()
		newPrometheusSnapshotMetrics = saved
	})

	InitRegistry()
	newPrometheusSnapshotMetrics = nil
	assert.Nil(t, NewSnapshotMetrics())

	RegisterSnapshotMetricsConstructor(func() snapshot.Metrics { return fakeSnapshotMetrics{} })
	assert.Equal(t, fakeSnapshotMetrics{}, NewSnapshotMetrics())
}
