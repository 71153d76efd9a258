package notify

import (
	"errors"
	"fmt"

	"tdrf/core"
	"tdrf/metrics"
	"tdrf/util/goroutine"

	"go.uber.org/zap"
)

// NamedSink pairs a sink with the name used in logs and metrics.
type NamedSink struct {
	Name string
	Sink core.AlertSink
}

// MultiSink fans alerts out to several sinks. A failing sink does not stop
// delivery to the others.
type MultiSink struct {
	sinks  []NamedSink
	logger *zap.SugaredLogger
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(logger *zap.SugaredLogger, sinks ...NamedSink) *MultiSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MultiSink{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (m *MultiSink) Add(name string, sink core.AlertSink) {
	m.sinks = append(m.sinks, NamedSink{Name: name, Sink: sink})
}

// Names returns the configured sink names in delivery order.
func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}

// AddAlert delivers alert to every sink. It returns the id assigned by the
// first sink that accepted the alert and the joined errors of the rest.
func (m *MultiSink) AddAlert(alert *core.Alert) (string, error) {
	var id string
	var errs []error
	for _, s := range m.sinks {
		var got string
		err := goroutine.SafeCall(s.Name, func() error {
			var err error
			got, err = s.Sink.AddAlert(alert)
			return err
		})
		if err != nil {
			metrics.SinkFailures.WithLabelValues(s.Name).Inc()
			m.logger.Warnf("Sink %s rejected alert %s: %v", s.Name, alert.CorrelationID, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if id == "" {
			id = got
		}
	}
	return id, errors.Join(errs...)
}
