package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the ordered severity scale shared by events, rules and alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s on the severity scale, or -1 if unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Alert types emitted by the correlation engine.
const (
	AlertTypeBruteForce           = "brute_force_detected"
	AlertTypeSuccessfulBruteForce = "successful_brute_force"
	AlertTypeRuleMatch            = "rule_match"
	AlertTypeSuspiciousService    = "suspicious_service"
)

// Alert is the output of a detection. Alerts are immutable once emitted;
// sinks must not modify them.
type Alert struct {
	CorrelationID string                 `json:"correlation_id"`
	AlertType     string                 `json:"alert_type"`
	Severity      Severity               `json:"severity"`
	Timestamp     time.Time              `json:"timestamp"`
	SourceIP      string                 `json:"source_ip,omitempty"`
	TargetIP      string                 `json:"target_ip,omitempty"`
	Username      string                 `json:"username,omitempty"`
	RuleName      string                 `json:"rule_name,omitempty"`
	Description   string                 `json:"description"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewAlert creates an alert with a fresh correlation id.
func NewAlert(alertType string, severity Severity, ts time.Time, description string) *Alert {
	return &Alert{
		CorrelationID: uuid.New().String(),
		AlertType:     alertType,
		Severity:      severity,
		Timestamp:     ts,
		Description:   description,
		Metadata:      make(map[string]interface{}),
	}
}

// AlertSink receives alerts produced by the engine. Implementations return an
// identifier assigned by the sink.
type AlertSink interface {
	AddAlert(alert *Alert) (string, error)
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(alert *Alert) (string, error)

// AddAlert calls f(alert).
func (f AlertSinkFunc) AddAlert(alert *Alert) (string, error) {
	return f(alert)
}

// NopSink discards alerts.
type NopSink struct{}

// AddAlert returns the alert's correlation id.
func (NopSink) AddAlert(alert *Alert) (string, error) {
	return alert.CorrelationID, nil
}
