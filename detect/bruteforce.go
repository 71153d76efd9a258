package detect

import (
	"fmt"
	"sort"
	"time"

	"tdrf/core"

	"go.uber.org/zap"
)

const (
	unknownUser   = "unknown"
	topSourcesMax = 10
)

// BruteForceConfig configures BruteForceDetector.
type BruteForceConfig struct {
	// Threshold is the number of failures within Window that raises an alert.
	Threshold int
	// Window is the trailing interval failures are counted over.
	Window time.Duration
	// AlertOnSuccessAfterFailures enables the successful_brute_force alert.
	AlertOnSuccessAfterFailures bool
	// MinFailuresBeforeSuccess is the number of recent failures a success must
	// follow to be reported.
	MinFailuresBeforeSuccess int
}

// DefaultBruteForceConfig returns the stock thresholds.
func DefaultBruteForceConfig() BruteForceConfig {
	return BruteForceConfig{
		Threshold:                   5,
		Window:                      300 * time.Second,
		AlertOnSuccessAfterFailures: true,
		MinFailuresBeforeSuccess:    2,
	}
}

type attemptKey struct {
	source   string
	username string
}

// SourceAttempts is one entry of BruteForceStats.TopSources.
type SourceAttempts struct {
	SourceIP string `json:"source_ip"`
	Username string `json:"username"`
	Attempts int    `json:"attempts"`
}

// BruteForceStats summarizes tracked failed-login state.
type BruteForceStats struct {
	TrackedSources      int              `json:"tracked_sources"`
	TotalFailedAttempts int              `json:"total_failed_attempts"`
	TopSources          []SourceAttempts `json:"top_sources"`
}

// BruteForceDetector keeps a sliding window of failed-login timestamps per
// (source, username) pair.
type BruteForceDetector struct {
	cfg        BruteForceConfig
	classifier *LoginClassifier
	attempts   map[attemptKey][]time.Time
	logger     *zap.SugaredLogger
}

// NewBruteForceDetector creates a detector. A nil classifier uses the default
// event type lists.
func NewBruteForceDetector(cfg BruteForceConfig, classifier *LoginClassifier, logger *zap.SugaredLogger) *BruteForceDetector {
	if classifier == nil {
		classifier = NewLoginClassifier(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MinFailuresBeforeSuccess <= 0 {
		cfg.MinFailuresBeforeSuccess = 2
	}
	return &BruteForceDetector{
		cfg:        cfg,
		classifier: classifier,
		attempts:   make(map[attemptKey][]time.Time),
		logger:     logger,
	}
}

func keyFor(e *core.Event) attemptKey {
	user := e.Username
	if user == "" {
		user = unknownUser
	}
	return attemptKey{source: e.SourceIP, username: user}
}

// Process updates state for e and returns at most one alert.
func (d *BruteForceDetector) Process(e *core.Event) []*core.Alert {
	if e == nil || e.SourceIP == "" {
		return nil
	}
	switch {
	case d.classifier.IsFailedLogin(e):
		if alert := d.recordFailure(e); alert != nil {
			return []*core.Alert{alert}
		}
	case d.cfg.AlertOnSuccessAfterFailures && d.classifier.IsSuccessfulLogin(e):
		if alert := d.checkSuccess(e); alert != nil {
			return []*core.Alert{alert}
		}
	}
	return nil
}

func (d *BruteForceDetector) recordFailure(e *core.Event) *core.Alert {
	key := keyFor(e)
	ts := e.Timestamp
	window := pruneBefore(append(d.attempts[key], ts), ts.Add(-d.cfg.Window))
	d.attempts[key] = window

	if len(window) < d.cfg.Threshold {
		return nil
	}

	seconds := int(d.cfg.Window / time.Second)
	alert := core.NewAlert(core.AlertTypeBruteForce, core.SeverityHigh, ts,
		fmt.Sprintf("Brute-force attack detected: %d failed login attempts for user '%s' from %s in %d seconds",
			len(window), key.username, key.source, seconds))
	alert.SourceIP = e.SourceIP
	alert.TargetIP = e.TargetIP
	alert.Username = key.username
	alert.Metadata["event_count"] = len(window)
	alert.Metadata["time_window"] = seconds
	alert.Metadata["event_id"] = e.EventID

	d.logger.Debugw("Brute-force threshold reached",
		"source_ip", key.source,
		"username", key.username,
		"attempts", len(window))
	return alert
}

func (d *BruteForceDetector) checkSuccess(e *core.Event) *core.Alert {
	key := keyFor(e)
	ts := e.Timestamp
	recent := 0
	for _, t := range d.attempts[key] {
		if t.After(ts.Add(-d.cfg.Window)) {
			recent++
		}
	}
	if recent < d.cfg.MinFailuresBeforeSuccess {
		return nil
	}

	alert := core.NewAlert(core.AlertTypeSuccessfulBruteForce, core.SeverityCritical, ts,
		fmt.Sprintf("Successful login after %d failed attempts for user '%s' from %s",
			recent, key.username, key.source))
	alert.SourceIP = e.SourceIP
	alert.TargetIP = e.TargetIP
	alert.Username = key.username
	alert.Metadata["failed_attempts"] = recent
	alert.Metadata["time_window"] = int(d.cfg.Window / time.Second)
	alert.Metadata["event_id"] = e.EventID

	delete(d.attempts, key)
	return alert
}

// pruneBefore keeps timestamps strictly after cutoff, preserving order.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// AttemptCount returns the failures recorded for (source, username) within
// the window ending at now.
func (d *BruteForceDetector) AttemptCount(source, username string, now time.Time) int {
	if username == "" {
		username = unknownUser
	}
	n := 0
	for _, t := range d.attempts[attemptKey{source: source, username: username}] {
		if t.After(now.Add(-d.cfg.Window)) {
			n++
		}
	}
	return n
}

// Expire forgets keys whose newest failure is outside the window ending at
// now. Keys with any recent failure are left intact, since their timestamps
// are pruned against each new failure's own time in Process.
func (d *BruteForceDetector) Expire(now time.Time) int {
	cutoff := now.Add(-d.cfg.Window)
	removed := 0
	for key, ts := range d.attempts {
		if len(ts) == 0 || !newest(ts).After(cutoff) {
			delete(d.attempts, key)
			removed++
		}
	}
	return removed
}

func newest(ts []time.Time) time.Time {
	var max time.Time
	for _, t := range ts {
		if t.After(max) {
			max = t
		}
	}
	return max
}

// Stats returns tracked key counts and the busiest pairs.
func (d *BruteForceDetector) Stats() BruteForceStats {
	stats := BruteForceStats{TrackedSources: len(d.attempts)}
	top := make([]SourceAttempts, 0, len(d.attempts))
	for key, ts := range d.attempts {
		stats.TotalFailedAttempts += len(ts)
		top = append(top, SourceAttempts{SourceIP: key.source, Username: key.username, Attempts: len(ts)})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Attempts != top[j].Attempts {
			return top[i].Attempts > top[j].Attempts
		}
		if top[i].SourceIP != top[j].SourceIP {
			return top[i].SourceIP < top[j].SourceIP
		}
		return top[i].Username < top[j].Username
	})
	if len(top) > topSourcesMax {
		top = top[:topSourcesMax]
	}
	stats.TopSources = top
	return stats
}

// Clear forgets all tracked failures.
func (d *BruteForceDetector) Clear() {
	d.attempts = make(map[attemptKey][]time.Time)
}
