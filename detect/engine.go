package detect

import (
	"fmt"
	"time"

	"tdrf/core"
	"tdrf/metrics"
	"tdrf/util/goroutine"

	"go.uber.org/zap"
)

// Named time windows available to rules and helpers.
const (
	WindowShort  = "short"
	WindowMedium = "medium"
	WindowLong   = "long"
)

// EngineConfig configures a CorrelationEngine.
type EngineConfig struct {
	// Enabled turns correlation on. A disabled engine buffers nothing and
	// returns no alerts.
	Enabled bool
	// TimeWindows are the named windows; the widest one also bounds retention.
	TimeWindows map[string]time.Duration
	// Rules is the correlation rule set. Nil selects DefaultRules.
	Rules []Rule
	// TypeMatch selects substring (default) or exact rule type matching.
	TypeMatch TypeMatch
	// BruteForce configures failed-login tracking.
	BruteForce BruteForceConfig
	// FailedLoginTypes and SuccessLoginTypes override the login classifier's
	// event type lists.
	FailedLoginTypes  []string
	SuccessLoginTypes []string
}

// DefaultEngineConfig returns an enabled engine with the built-in rules.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Enabled: true,
		TimeWindows: map[string]time.Duration{
			WindowShort:  300 * time.Second,
			WindowMedium: 1800 * time.Second,
			WindowLong:   3600 * time.Second,
		},
		TypeMatch:  MatchSubstring,
		BruteForce: DefaultBruteForceConfig(),
	}
}

// Validate rejects configurations the engine cannot run with.
func (c EngineConfig) Validate() error {
	for name, w := range c.TimeWindows {
		if w <= 0 {
			return fmt.Errorf("time window %q must be positive, got %s", name, w)
		}
	}
	if c.BruteForce.Threshold < 1 {
		return fmt.Errorf("brute-force threshold must be at least 1, got %d", c.BruteForce.Threshold)
	}
	if c.BruteForce.Window <= 0 {
		return fmt.Errorf("brute-force window must be positive, got %s", c.BruteForce.Window)
	}
	switch c.TypeMatch {
	case "", MatchSubstring, MatchExact:
	default:
		return fmt.Errorf("unknown type match %q", c.TypeMatch)
	}
	return nil
}

// EngineStatistics is a snapshot of engine state.
type EngineStatistics struct {
	EventsBuffered int             `json:"events_buffered"`
	UniqueSources  int             `json:"unique_sources"`
	UniqueTargets  int             `json:"unique_targets"`
	EventTypes     int             `json:"event_types"`
	RuleCount      int             `json:"rule_count"`
	TotalAlerts    int             `json:"total_alerts"`
	BruteForce     BruteForceStats `json:"brute_force"`
}

// Option customizes a CorrelationEngine.
type Option func(*CorrelationEngine)

// WithClock makes the engine use clock() as its reference time instead of the
// latest event timestamp seen.
func WithClock(clock func() time.Time) Option {
	return func(e *CorrelationEngine) { e.clock = clock }
}

// WithSinkName sets the label used for sink failure metrics and logs.
func WithSinkName(name string) Option {
	return func(e *CorrelationEngine) { e.sinkName = name }
}

// CorrelationEngine feeds events through the index, the rule engine and the
// brute-force detector and forwards the resulting alerts to a sink.
//
// CorrelationEngine is not safe for concurrent use. Detector provides a
// single-goroutine host for concurrent producers.
type CorrelationEngine struct {
	enabled     bool
	timeWindows map[string]time.Duration
	index       *EventIndex
	rules       *RuleEngine
	bruteForce  *BruteForceDetector
	sink        core.AlertSink
	sinkName    string
	clock       func() time.Time
	now         time.Time
	totalAlerts int
	logger      *zap.SugaredLogger
}

// NewCorrelationEngine builds an engine. A nil sink discards alerts and a nil
// logger disables logging.
func NewCorrelationEngine(cfg EngineConfig, sink core.AlertSink, logger *zap.SugaredLogger, opts ...Option) (*CorrelationEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = core.NopSink{}
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	windows := make(map[string]time.Duration, len(cfg.TimeWindows))
	for k, v := range cfg.TimeWindows {
		windows[k] = v
	}

	e := &CorrelationEngine{
		enabled:     cfg.Enabled,
		timeWindows: windows,
		sink:        sink,
		sinkName:    "default",
		logger:      logger,
	}
	e.index = NewEventIndex(0)
	e.rules = NewRuleEngine(e.index, rules, cfg.TypeMatch, logger)
	e.bruteForce = NewBruteForceDetector(cfg.BruteForce,
		NewLoginClassifier(cfg.FailedLoginTypes, cfg.SuccessLoginTypes), logger)
	for _, opt := range opts {
		opt(e)
	}
	e.refreshMaxWindow()

	logger.Infof("Correlation engine initialized: enabled=%t rules=%d retention=%s",
		e.enabled, e.rules.Len(), e.index.MaxWindow())
	return e, nil
}

// refreshMaxWindow sets retention to the widest named or rule window.
func (e *CorrelationEngine) refreshMaxWindow() {
	widest := e.rules.MaxWindow()
	for _, w := range e.timeWindows {
		if w > widest {
			widest = w
		}
	}
	e.index.SetMaxWindow(widest)
}

// TimeWindow returns a named window.
func (e *CorrelationEngine) TimeWindow(name string) (time.Duration, bool) {
	w, ok := e.timeWindows[name]
	return w, ok
}

// Now returns the engine's reference time.
func (e *CorrelationEngine) Now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return e.now
}

func (e *CorrelationEngine) advance(ts time.Time) time.Time {
	if ts.After(e.now) {
		e.now = ts
	}
	return e.Now()
}

// AddEvent correlates a single event and returns any alerts it produced.
// Alerts are forwarded to the sink before returning; sink failures are logged
// and do not affect the result.
func (e *CorrelationEngine) AddEvent(event *core.Event) []*core.Alert {
	if event == nil || !e.enabled {
		return nil
	}
	start := time.Now()
	metrics.EventsIngested.WithLabelValues(event.EventType).Inc()

	now := e.advance(event.Timestamp)
	e.index.Add(event)
	if removed := e.index.Evict(now); removed > 0 {
		metrics.EventsEvicted.Add(float64(removed))
	}

	alerts := e.rules.Evaluate(event, now)
	alerts = append(alerts, e.bruteForce.Process(event)...)

	for _, alert := range alerts {
		metrics.AlertsGenerated.WithLabelValues(alert.AlertType, string(alert.Severity)).Inc()
		e.deliver(alert)
	}
	e.totalAlerts += len(alerts)

	metrics.BufferedEvents.Set(float64(e.index.Len()))
	metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	return alerts
}

// AddEvents correlates events in order and returns all alerts produced.
func (e *CorrelationEngine) AddEvents(events []*core.Event) []*core.Alert {
	var alerts []*core.Alert
	for _, ev := range events {
		alerts = append(alerts, e.AddEvent(ev)...)
	}
	return alerts
}

func (e *CorrelationEngine) deliver(alert *core.Alert) {
	err := goroutine.SafeCall("alert sink "+e.sinkName, func() error {
		_, err := e.sink.AddAlert(alert)
		return err
	})
	if err != nil {
		metrics.SinkFailures.WithLabelValues(e.sinkName).Inc()
		e.logger.Errorw("Alert sink failed",
			"sink", e.sinkName,
			"alert_type", alert.AlertType,
			"correlation_id", alert.CorrelationID,
			"error", err)
	}
}

// Statistics returns a snapshot of engine state.
func (e *CorrelationEngine) Statistics() EngineStatistics {
	return EngineStatistics{
		EventsBuffered: e.index.Len(),
		UniqueSources:  e.index.UniqueSources(),
		UniqueTargets:  e.index.UniqueTargets(),
		EventTypes:     e.index.UniqueTypes(),
		RuleCount:      e.rules.Len(),
		TotalAlerts:    e.totalAlerts,
		BruteForce:     e.bruteForce.Stats(),
	}
}

// ExpireTracking forgets brute-force keys with no failure inside the window
// ending at the engine's current time and returns how many were dropped.
func (e *CorrelationEngine) ExpireTracking() int {
	return e.bruteForce.Expire(e.Now())
}

// AttemptCount returns recent failed logins for (source, username).
func (e *CorrelationEngine) AttemptCount(source, username string) int {
	return e.bruteForce.AttemptCount(source, username, e.Now())
}

// ClearBuffer drops buffered and indexed events. Brute-force tracking and
// the alert counter are kept.
func (e *CorrelationEngine) ClearBuffer() {
	e.index.Clear()
	metrics.BufferedEvents.Set(0)
	e.logger.Info("Correlation buffer cleared")
}

// ClearTracking drops brute-force tracking state.
func (e *CorrelationEngine) ClearTracking() {
	e.bruteForce.Clear()
}

// AddRule appends a correlation rule.
func (e *CorrelationEngine) AddRule(r Rule) {
	e.rules.AddRule(r)
	e.refreshMaxWindow()
	e.logger.Infof("Added correlation rule %q", r.Name)
}

// RemoveRule removes rules named name and reports whether any existed.
func (e *CorrelationEngine) RemoveRule(name string) bool {
	removed := e.rules.RemoveRule(name)
	if removed {
		e.refreshMaxWindow()
		e.logger.Infof("Removed correlation rule %q", name)
	}
	return removed
}

// Rules returns a copy of the rule list.
func (e *CorrelationEngine) Rules() []Rule {
	return e.rules.Rules()
}
