package notify

import (
	"time"

	"tdrf/core"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestAlert(sev core.Severity, src string) *core.Alert {
	a := core.NewAlert(core.AlertTypeBruteForce, sev, testTime, "test alert from "+src)
	a.SourceIP = src
	a.TargetIP = "10.0.0.1"
	a.Metadata["event_count"] = 5
	return a
}
