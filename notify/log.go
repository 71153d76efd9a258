package notify

import (
	"tdrf/core"

	"go.uber.org/zap"
)

// LogSink writes alerts to the structured log. CRITICAL and HIGH alerts are
// logged at error level, MEDIUM at warn, the rest at info.
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

// AddAlert logs alert.
func (s *LogSink) AddAlert(alert *core.Alert) (string, error) {
	fields := []interface{}{
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"correlation_id", alert.CorrelationID,
		"timestamp", alert.Timestamp,
	}
	if alert.SourceIP != "" {
		fields = append(fields, "source_ip", alert.SourceIP)
	}
	if alert.TargetIP != "" {
		fields = append(fields, "target_ip", alert.TargetIP)
	}
	if alert.RuleName != "" {
		fields = append(fields, "rule", alert.RuleName)
	}

	msg := "ALERT: " + alert.Description
	switch alert.Severity {
	case core.SeverityCritical, core.SeverityHigh:
		s.logger.Errorw(msg, fields...)
	case core.SeverityMedium:
		s.logger.Warnw(msg, fields...)
	default:
		s.logger.Infow(msg, fields...)
	}
	return alert.CorrelationID, nil
}
