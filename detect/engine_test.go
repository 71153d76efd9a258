package detect

import (
	"errors"
	"testing"
	"time"

	"tdrf/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewCorrelationEngine_Defaults(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)

	rules := e.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "Reconnaissance and Attack", rules[0].Name)
	assert.Equal(t, "Distributed Brute-Force", rules[1].Name)
	assert.Equal(t, "Suspicious Service Access", rules[2].Name)

	assert.Equal(t, 3600*time.Second, e.index.MaxWindow(), "widest named window bounds retention")
	w, ok := e.TimeWindow(WindowMedium)
	assert.True(t, ok)
	assert.Equal(t, 1800*time.Second, w)
}

func TestNewCorrelationEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.TimeWindows[WindowShort] = 0
	_, err := NewCorrelationEngine(cfg, nil, nil)
	assert.Error(t, err)

	cfg = DefaultEngineConfig()
	cfg.BruteForce.Threshold = 0
	_, err = NewCorrelationEngine(cfg, nil, nil)
	assert.Error(t, err)

	cfg = DefaultEngineConfig()
	cfg.TypeMatch = "regex"
	_, err = NewCorrelationEngine(cfg, nil, nil)
	assert.Error(t, err)
}

func TestCorrelationEngine_ReconnaissanceScenario(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, DefaultEngineConfig(), sink)

	assert.Empty(t, e.AddEvent(newEvent("port_scan", 0, "6.6.6.6", "10.0.0.1")))
	alerts := e.AddEvent(newEvent("failed_login", 60, "6.6.6.6", "10.0.0.1"))

	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertTypeRuleMatch, alerts[0].AlertType)
	assert.Equal(t, "Reconnaissance and Attack", alerts[0].RuleName)
	assert.Equal(t, alerts, sink.alerts, "every returned alert reached the sink")
}

func TestCorrelationEngine_BruteForceScenarios(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, DefaultEngineConfig(), sink)

	var alerts []*core.Alert
	for i := 0; i < 6; i++ {
		alerts = append(alerts, e.AddEvent(failedLogin(i*10, "1.2.3.4", "admin"))...)
	}
	bf := alertsOfType(alerts, core.AlertTypeBruteForce)
	require.Len(t, bf, 2)
	assert.Equal(t, 5, bf[0].Metadata["event_count"])
	assert.Equal(t, 6, bf[1].Metadata["event_count"])

	success := e.AddEvent(successLogin(70, "1.2.3.4", "admin"))
	require.Len(t, success, 1)
	assert.Equal(t, core.AlertTypeSuccessfulBruteForce, success[0].AlertType)
	assert.Equal(t, 6, success[0].Metadata["failed_attempts"])

	e.AddEvent(failedLogin(80, "1.2.3.4", "admin"))
	assert.Equal(t, 1, e.AttemptCount("1.2.3.4", "admin"))
	assert.Len(t, sink.alerts, 3)
}

func TestCorrelationEngine_AddEvents(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	events := []*core.Event{
		newEvent("port_scan", 0, "6.6.6.6", "10.0.0.1"),
		newEvent("failed_login", 10, "6.6.6.6", "10.0.0.1"),
		newEvent("failed_login", 20, "6.6.6.6", "10.0.0.1"),
	}
	alerts := e.AddEvents(events)
	assert.Len(t, alerts, 2)
	assert.Equal(t, 2, e.Statistics().TotalAlerts)
}

func TestCorrelationEngine_SinkFailureIsContained(t *testing.T) {
	obsCore, logs := observer.New(zapcore.ErrorLevel)
	sink := &recordingSink{err: errors.New("redis down")}
	e, err := NewCorrelationEngine(DefaultEngineConfig(), sink, zap.New(obsCore).Sugar(), WithSinkName("redis"))
	require.NoError(t, err)

	e.AddEvent(newEvent("port_scan", 0, "6.6.6.6", ""))
	alerts := e.AddEvent(newEvent("failed_login", 1, "6.6.6.6", ""))

	require.Len(t, alerts, 1, "alert still returned")
	entries := logs.FilterMessage("Alert sink failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "redis", entries[0].ContextMap()["sink"])
}

func TestCorrelationEngine_SinkPanicIsContained(t *testing.T) {
	sink := core.AlertSinkFunc(func(*core.Alert) (string, error) { panic("sink bug") })
	e := newTestEngine(t, DefaultEngineConfig(), sink)

	e.AddEvent(newEvent("port_scan", 0, "6.6.6.6", ""))
	var alerts []*core.Alert
	assert.NotPanics(t, func() {
		alerts = e.AddEvent(newEvent("failed_login", 1, "6.6.6.6", ""))
	})
	assert.Len(t, alerts, 1)
}

func TestCorrelationEngine_Disabled(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Enabled = false
	e := newTestEngine(t, cfg, nil)

	for i := 0; i < 10; i++ {
		assert.Empty(t, e.AddEvent(failedLogin(i, "1.2.3.4", "root")))
	}
	assert.Zero(t, e.Statistics().EventsBuffered)
}

func TestCorrelationEngine_StatisticsAndEviction(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)

	e.AddEvent(newEvent("port_scan", 0, "1.1.1.1", "10.0.0.1"))
	e.AddEvent(newEvent("dns_query", 10, "2.2.2.2", "10.0.0.2"))
	e.AddEvent(newEvent("port_scan", 20, "1.1.1.1", ""))

	stats := e.Statistics()
	assert.Equal(t, 3, stats.EventsBuffered)
	assert.Equal(t, 2, stats.UniqueSources)
	assert.Equal(t, 2, stats.UniqueTargets)
	assert.Equal(t, 2, stats.EventTypes)
	assert.Equal(t, 3, stats.RuleCount)

	// 3600s retention: at t=3610 the first two events fall out
	e.AddEvent(newEvent("heartbeat", 3610, "3.3.3.3", ""))
	stats = e.Statistics()
	assert.Equal(t, 2, stats.EventsBuffered)
	assert.Equal(t, 2, stats.UniqueSources)
	assert.Zero(t, stats.UniqueTargets)

	e.ClearBuffer()
	assert.Zero(t, e.Statistics().EventsBuffered)
}

func TestCorrelationEngine_RuleWindowExtendsRetention(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	e.AddRule(Rule{Name: "slow", Events: []string{"exfil"}, Mode: ModeSameSource, TimeWindow: 7200})
	assert.Equal(t, 7200*time.Second, e.index.MaxWindow())
	assert.Equal(t, 4, e.Statistics().RuleCount)

	assert.True(t, e.RemoveRule("slow"))
	assert.Equal(t, 3600*time.Second, e.index.MaxWindow())
	assert.False(t, e.RemoveRule("slow"))
}

func TestCorrelationEngine_EventTimeIsHighWaterMark(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	e.AddEvent(newEvent("port_scan", 100, "1.1.1.1", ""))
	e.AddEvent(newEvent("port_scan", 50, "1.1.1.1", ""))
	assert.Equal(t, at(100), e.Now(), "late events do not move time backwards")
}

func TestCorrelationEngine_WithClock(t *testing.T) {
	now := at(10_000)
	e := newTestEngine(t, DefaultEngineConfig(), nil, WithClock(func() time.Time { return now }))

	// far older than the retention horizon measured against the clock
	e.AddEvent(newEvent("port_scan", 0, "1.1.1.1", ""))
	assert.Zero(t, e.Statistics().EventsBuffered)
	assert.Equal(t, now, e.Now())
}

// Re-running identical input yields structurally identical alerts.
func TestCorrelationEngine_DeterministicContent(t *testing.T) {
	run := func() []*core.Alert {
		e := newTestEngine(t, DefaultEngineConfig(), nil)
		var out []*core.Alert
		events := []*core.Event{
			{EventID: "a", Timestamp: at(0), EventType: "port_scan", SourceIP: "6.6.6.6", TargetIP: "10.0.0.1"},
			{EventID: "b", Timestamp: at(5), EventType: "failed_login", SourceIP: "6.6.6.6", TargetIP: "10.0.0.1"},
		}
		out = append(out, e.AddEvents(events)...)
		return out
	}
	first, second := run(), run()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].CorrelationID, second[0].CorrelationID)
	a, b := *first[0], *second[0]
	a.CorrelationID, b.CorrelationID = "", ""
	assert.Equal(t, a, b)
}

func TestCorrelationEngine_NilEventIgnored(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	assert.Nil(t, e.AddEvent(nil))
	assert.Zero(t, e.Statistics().EventsBuffered)
}

func TestCorrelationEngine_ClearTracking(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	for i := 0; i < 3; i++ {
		e.AddEvent(failedLogin(i, "1.2.3.4", "root"))
	}
	assert.Equal(t, 1, e.Statistics().BruteForce.TrackedSources)
	e.ClearTracking()
	assert.Zero(t, e.Statistics().BruteForce.TrackedSources)
	assert.Equal(t, 3, e.Statistics().EventsBuffered, "buffer is untouched")
}

// A burst stamped earlier than events already seen still counts against its
// own timestamps.
func TestCorrelationEngine_OutOfOrderBruteForce(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), nil)
	e.AddEvent(newEvent("port_scan", 1000, "9.9.9.9", "10.0.0.9"))

	var alerts []*core.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, e.AddEvent(failedLogin(690+i*10, "1.2.3.4", "admin"))...)
	}

	bf := alertsOfType(alerts, core.AlertTypeBruteForce)
	require.Len(t, bf, 1)
	assert.Equal(t, 5, bf[0].Metadata["event_count"])
	assert.Equal(t, at(730), bf[0].Timestamp)
	assert.Equal(t, at(1000), e.Now())
}

func TestCorrelationEngine_WithClockHistoricalBruteForce(t *testing.T) {
	now := at(100_000)
	e := newTestEngine(t, DefaultEngineConfig(), nil, WithClock(func() time.Time { return now }))

	var alerts []*core.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, e.AddEvent(failedLogin(i*10, "1.2.3.4", "admin"))...)
	}
	assert.Len(t, alertsOfType(alerts, core.AlertTypeBruteForce), 1)

	assert.Equal(t, 1, e.ExpireTracking(), "the idle key is dropped once swept")
	assert.Zero(t, e.Statistics().BruteForce.TrackedSources)
}
