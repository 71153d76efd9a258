package detect

import (
	"fmt"
	"testing"
	"time"

	"tdrf/core"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return baseTime.Add(time.Duration(seconds) * time.Second)
}

var eventSeq int

func newEvent(eventType string, seconds int, src, dst string) *core.Event {
	eventSeq++
	return &core.Event{
		EventID:   fmt.Sprintf("evt-%d", eventSeq),
		Timestamp: at(seconds),
		EventType: eventType,
		SourceIP:  src,
		TargetIP:  dst,
	}
}

func failedLogin(seconds int, src, user string) *core.Event {
	e := newEvent("failed_password", seconds, src, "10.0.0.1")
	e.Username = user
	return e
}

func successLogin(seconds int, src, user string) *core.Event {
	e := newEvent("accepted_password", seconds, src, "10.0.0.1")
	e.Username = user
	return e
}

// recordingSink captures every alert it receives.
type recordingSink struct {
	alerts []*core.Alert
	err    error
}

func (s *recordingSink) AddAlert(a *core.Alert) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.alerts = append(s.alerts, a)
	return a.CorrelationID, nil
}

func newTestEngine(t *testing.T, cfg EngineConfig, sink core.AlertSink, opts ...Option) *CorrelationEngine {
	t.Helper()
	e, err := NewCorrelationEngine(cfg, sink, zap.NewNop().Sugar(), opts...)
	require.NoError(t, err)
	return e
}

func alertsOfType(alerts []*core.Alert, alertType string) []*core.Alert {
	var out []*core.Alert
	for _, a := range alerts {
		if a.AlertType == alertType {
			out = append(out, a)
		}
	}
	return out
}
