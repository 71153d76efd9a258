package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, EventsIngested)
	assert.NotNil(t, EventsDropped)
	assert.NotNil(t, AlertsGenerated)
	assert.NotNil(t, SinkFailures)
	assert.NotNil(t, EventProcessingDuration)
	assert.NotNil(t, BufferedEvents)
	assert.NotNil(t, EventsEvicted)
	assert.NotNil(t, DecodeErrors)
}

func TestSinkFailuresCounter(t *testing.T) {
	before := testutil.ToFloat64(SinkFailures.WithLabelValues("metrics_test"))
	SinkFailures.WithLabelValues("metrics_test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SinkFailures.WithLabelValues("metrics_test")))
}
