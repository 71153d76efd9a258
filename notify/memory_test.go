package notify

import (
	"testing"

	"tdrf/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_AddAndGet(t *testing.T) {
	sink, err := NewMemorySink(10)
	require.NoError(t, err)

	a := newTestAlert(core.SeverityHigh, "192.168.1.100")
	id, err := sink.AddAlert(a)
	require.NoError(t, err)
	assert.Equal(t, a.CorrelationID, id)

	rec, ok := sink.Get(id)
	require.True(t, ok)
	assert.Same(t, a, rec.Alert)
	assert.False(t, rec.Acknowledged)
	assert.False(t, rec.ReceivedAt.IsZero())

	_, ok = sink.Get("missing")
	assert.False(t, ok)
}

func TestMemorySink_NilAlert(t *testing.T) {
	sink, err := NewMemorySink(10)
	require.NoError(t, err)
	_, err = sink.AddAlert(nil)
	assert.Error(t, err)
}

func TestMemorySink_InvalidCapacity(t *testing.T) {
	_, err := NewMemorySink(0)
	assert.Error(t, err)
}

func TestMemorySink_EvictsOldest(t *testing.T) {
	sink, err := NewMemorySink(2)
	require.NoError(t, err)

	first := newTestAlert(core.SeverityLow, "1.1.1.1")
	second := newTestAlert(core.SeverityLow, "2.2.2.2")
	third := newTestAlert(core.SeverityLow, "3.3.3.3")
	for _, a := range []*core.Alert{first, second, third} {
		_, err := sink.AddAlert(a)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, sink.Count(""))
	_, ok := sink.Get(first.CorrelationID)
	assert.False(t, ok, "oldest alert should be evicted")

	recent := sink.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, third.CorrelationID, recent[0].Alert.CorrelationID)
	assert.Equal(t, second.CorrelationID, recent[1].Alert.CorrelationID)

	assert.Len(t, sink.Recent(1), 1)
}

func TestMemorySink_AcknowledgeResolve(t *testing.T) {
	sink, err := NewMemorySink(10)
	require.NoError(t, err)

	a := newTestAlert(core.SeverityCritical, "192.168.1.100")
	b := newTestAlert(core.SeverityMedium, "192.168.1.101")
	_, _ = sink.AddAlert(a)
	_, _ = sink.AddAlert(b)

	require.NoError(t, sink.Acknowledge(a.CorrelationID))
	require.NoError(t, sink.Resolve(b.CorrelationID))
	assert.ErrorIs(t, sink.Acknowledge("nope"), ErrAlertNotFound)

	rec, _ := sink.Get(b.CorrelationID)
	assert.True(t, rec.Acknowledged)
	assert.True(t, rec.Resolved)

	stats := sink.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Acknowledged)
	assert.Equal(t, 0, stats.Unacknowledged)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.BySeverity[core.SeverityCritical])
	assert.Equal(t, 2, stats.ByType[core.AlertTypeBruteForce])
}

func TestMemorySink_StatsTopSources(t *testing.T) {
	sink, err := NewMemorySink(100)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = sink.AddAlert(newTestAlert(core.SeverityHigh, "10.1.1.1"))
	}
	_, _ = sink.AddAlert(newTestAlert(core.SeverityHigh, "10.2.2.2"))

	stats := sink.Stats()
	require.Len(t, stats.TopSources, 2)
	assert.Equal(t, SourceCount{SourceIP: "10.1.1.1", Alerts: 3}, stats.TopSources[0])
	assert.Equal(t, 4, sink.Count(core.SeverityHigh))

	sink.Clear()
	assert.Equal(t, 0, sink.Count(""))
}
