package detect

import (
	"context"
	"testing"
	"time"

	"tdrf/core"
	"tdrf/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDetector_ProcessesEventsAndForwardsAlerts(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	engine := newTestEngine(t, DefaultEngineConfig(), nil)
	in := make(chan *core.Event, 10)
	out := make(chan *core.Alert, 10)
	d := NewDetector(engine, in, out, zaptest.NewLogger(t).Sugar())
	d.Start()

	for i := 0; i < 5; i++ {
		in <- failedLogin(i, "1.2.3.4", "root")
	}
	close(in)

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detector did not exit after input closed")
	}
	d.Stop()

	require.Len(t, out, 1)
	alert := <-out
	assert.Equal(t, core.AlertTypeBruteForce, alert.AlertType)
}

func TestDetector_DoAndStatistics(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	engine := newTestEngine(t, DefaultEngineConfig(), nil)
	in := make(chan *core.Event)
	d := NewDetector(engine, in, nil, zaptest.NewLogger(t).Sugar())
	d.Start()
	defer d.Stop()

	in <- newEvent("port_scan", 0, "1.1.1.1", "10.0.0.1")
	in <- newEvent("failed_login", 1, "1.1.1.1", "10.0.0.1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := d.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EventsBuffered)
	assert.Equal(t, 1, stats.TotalAlerts)

	var removed bool
	require.NoError(t, d.Do(ctx, func(e *CorrelationEngine) {
		removed = e.RemoveRule("Reconnaissance and Attack")
	}))
	assert.True(t, removed)
}

func TestDetector_DoAfterStop(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	engine := newTestEngine(t, DefaultEngineConfig(), nil)
	d := NewDetector(engine, make(chan *core.Event), nil, nil)
	d.Start()
	d.Stop()
	d.Stop()

	err := d.Do(context.Background(), func(*CorrelationEngine) {})
	assert.ErrorIs(t, err, ErrDetectorStopped)
}

func TestDetector_FullAlertChannelDropsAlert(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	sink := &recordingSink{}
	engine := newTestEngine(t, DefaultEngineConfig(), sink)
	in := make(chan *core.Event, 10)
	out := make(chan *core.Alert) // unbuffered and never read
	d := NewDetector(engine, in, out, nil)
	d.Start()

	for i := 0; i < 6; i++ {
		in <- failedLogin(i, "1.2.3.4", "root")
	}
	close(in)
	<-d.Done()
	d.Stop()

	assert.Len(t, sink.alerts, 2, "sink still receives alerts the channel dropped")
}

func TestDetector_SweepDropsIdleKeys(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	engine := newTestEngine(t, DefaultEngineConfig(), nil)
	in := make(chan *core.Event, 10)
	d := NewDetector(engine, in, nil, nil)
	d.SetSweepInterval(10 * time.Millisecond)
	d.Start()
	defer d.Stop()

	in <- failedLogin(0, "1.2.3.4", "root")
	in <- newEvent("heartbeat", 1000, "5.5.5.5", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		stats, err := d.Statistics(ctx)
		return err == nil && stats.EventsBuffered == 2 && stats.BruteForce.TrackedSources == 0
	}, 3*time.Second, 20*time.Millisecond)
}
