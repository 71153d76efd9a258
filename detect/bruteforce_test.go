package detect

import (
	"fmt"
	"testing"
	"time"

	"tdrf/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBruteForce(cfg BruteForceConfig) *BruteForceDetector {
	return NewBruteForceDetector(cfg, nil, zap.NewNop().Sugar())
}

// Six failures spaced 10s apart with threshold 5 alert on the 5th and 6th.
func TestBruteForce_ThresholdBreach(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())

	var alerts []*core.Alert
	for i := 0; i < 6; i++ {
		got := d.Process(failedLogin(i*10, "1.2.3.4", "admin"))
		if i < 4 {
			assert.Empty(t, got, "failure %d is below threshold", i+1)
		}
		alerts = append(alerts, got...)
	}

	require.Len(t, alerts, 2)
	assert.Equal(t, core.AlertTypeBruteForce, alerts[0].AlertType)
	assert.Equal(t, core.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, 5, alerts[0].Metadata["event_count"])
	assert.Equal(t, 6, alerts[1].Metadata["event_count"])
	assert.Equal(t, 300, alerts[0].Metadata["time_window"])
	assert.Equal(t, "admin", alerts[0].Username)
	assert.Equal(t, "1.2.3.4", alerts[0].SourceIP)
	assert.Equal(t, at(40), alerts[0].Timestamp)
	assert.Equal(t,
		"Brute-force attack detected: 5 failed login attempts for user 'admin' from 1.2.3.4 in 300 seconds",
		alerts[0].Description)
	assert.NotEqual(t, alerts[0].CorrelationID, alerts[1].CorrelationID)
}

// Success after failures raises a critical alert and resets the key.
func TestBruteForce_SuccessAfterFailures(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())

	var breaches int
	for i := 0; i < 5; i++ {
		breaches += len(d.Process(failedLogin(i, "1.2.3.4", "root")))
	}
	assert.Equal(t, 1, breaches)

	alerts := d.Process(successLogin(10, "1.2.3.4", "root"))
	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertTypeSuccessfulBruteForce, alerts[0].AlertType)
	assert.Equal(t, core.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 5, alerts[0].Metadata["failed_attempts"])
	assert.Zero(t, d.AttemptCount("1.2.3.4", "root", at(10)), "key cleared after success alert")

	assert.Empty(t, d.Process(failedLogin(20, "1.2.3.4", "root")))
	assert.Equal(t, 1, d.AttemptCount("1.2.3.4", "root", at(20)))
}

func TestBruteForce_SuccessNeedsTwoRecentFailures(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())

	d.Process(failedLogin(0, "1.2.3.4", "bob"))
	assert.Empty(t, d.Process(successLogin(5, "1.2.3.4", "bob")))
	assert.Equal(t, 1, d.AttemptCount("1.2.3.4", "bob", at(5)), "no alert, no reset")

	d.Process(failedLogin(6, "1.2.3.4", "bob"))
	assert.Len(t, d.Process(successLogin(7, "1.2.3.4", "bob")), 1)
}

func TestBruteForce_SuccessIgnoresStaleFailures(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	d.Process(failedLogin(0, "1.2.3.4", "bob"))
	d.Process(failedLogin(1, "1.2.3.4", "bob"))
	assert.Empty(t, d.Process(successLogin(400, "1.2.3.4", "bob")))
}

func TestBruteForce_SuccessAlertDisabled(t *testing.T) {
	cfg := DefaultBruteForceConfig()
	cfg.AlertOnSuccessAfterFailures = false
	d := newTestBruteForce(cfg)
	for i := 0; i < 3; i++ {
		d.Process(failedLogin(i, "1.2.3.4", "bob"))
	}
	assert.Empty(t, d.Process(successLogin(5, "1.2.3.4", "bob")))
}

func TestBruteForce_WindowSlides(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())

	// four failures, then one exactly a window after the first: the first is pruned
	for i := 0; i < 4; i++ {
		d.Process(failedLogin(i*10, "5.5.5.5", "alice"))
	}
	assert.Empty(t, d.Process(failedLogin(300, "5.5.5.5", "alice")))
	assert.Equal(t, 4, d.AttemptCount("5.5.5.5", "alice", at(300)))

	assert.Len(t, d.Process(failedLogin(301, "5.5.5.5", "alice")), 1)
}

func TestBruteForce_KeysAreIndependent(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	for i := 0; i < 4; i++ {
		d.Process(failedLogin(i, "1.1.1.1", "alice"))
		d.Process(failedLogin(i, "1.1.1.1", "bob"))
		d.Process(failedLogin(i, "2.2.2.2", "alice"))
	}
	assert.Equal(t, 4, d.AttemptCount("1.1.1.1", "alice", at(4)))
	assert.Equal(t, 3, d.Stats().TrackedSources)
}

func TestBruteForce_IgnoredEvents(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())

	noSource := failedLogin(0, "", "root")
	assert.Empty(t, d.Process(noSource))
	assert.Empty(t, d.Process(newEvent("port_scan", 1, "1.1.1.1", "10.0.0.1")))
	assert.Empty(t, d.Process(nil))
	assert.Zero(t, d.Stats().TrackedSources)
}

func TestBruteForce_MissingUsernameIsUnknown(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	var alerts []*core.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, d.Process(failedLogin(i, "1.2.3.4", ""))...)
	}
	require.Len(t, alerts, 1)
	assert.Equal(t, "unknown", alerts[0].Username)
	assert.Equal(t, 5, d.AttemptCount("1.2.3.4", "", at(5)))
	assert.Equal(t, 5, d.AttemptCount("1.2.3.4", "unknown", at(5)))
}

func TestBruteForce_WindowsEventIDs(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	for i := 0; i < 5; i++ {
		e := newEvent("windows_security", i, "1.2.3.4", "10.0.0.5")
		e.Username = "administrator"
		e.Extension = map[string]interface{}{"event_id": float64(4625)}
		d.Process(e)
	}
	assert.Equal(t, 5, d.AttemptCount("1.2.3.4", "administrator", at(5)))

	ok := newEvent("windows_security", 6, "1.2.3.4", "10.0.0.5")
	ok.Username = "administrator"
	ok.Extension = map[string]interface{}{"event_id": "4624"}
	alerts := d.Process(ok)
	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertTypeSuccessfulBruteForce, alerts[0].AlertType)
}

// Property: after each failure only timestamps within the window remain.
func TestBruteForce_WindowInvariant(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	for i := 0; i < 100; i++ {
		ts := i * 37
		d.Process(failedLogin(ts, "9.9.9.9", "x"))
		for _, recorded := range d.attempts[attemptKey{"9.9.9.9", "x"}] {
			require.True(t, recorded.After(at(ts).Add(-300*time.Second)))
			require.False(t, recorded.After(at(ts)))
		}
	}
}

func TestBruteForce_ExpireAndStats(t *testing.T) {
	d := newTestBruteForce(DefaultBruteForceConfig())
	for i := 0; i < 12; i++ {
		for j := 0; j <= i%4; j++ {
			d.Process(failedLogin(j, fmt.Sprintf("10.1.0.%d", i), "u"))
		}
	}
	stats := d.Stats()
	assert.Equal(t, 12, stats.TrackedSources)
	assert.Equal(t, 3*(1+2+3+4), stats.TotalFailedAttempts)
	require.Len(t, stats.TopSources, 10)
	assert.Equal(t, 4, stats.TopSources[0].Attempts)
	assert.Equal(t, "10.1.0.11", stats.TopSources[0].SourceIP)

	assert.Equal(t, 9, d.Expire(at(302)))
	assert.Equal(t, 3, d.Stats().TrackedSources, "only keys with a failure at t=3 survive")
	assert.Equal(t, 3*4, d.Stats().TotalFailedAttempts, "surviving keys keep their older failures")

	d.Clear()
	assert.Zero(t, d.Stats().TrackedSources)
	assert.Empty(t, d.Stats().TopSources)
}
