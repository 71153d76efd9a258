package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"tdrf/core"
	"tdrf/util"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsPublisher is the subset of *nats.Conn used by NATSSink.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes alerts as JSON on a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	pub     natsPublisher
	subject string
	logger  *zap.SugaredLogger
}

// NewNATSSink connects to url and publishes on subject.
func NewNATSSink(url, subject string, logger *zap.SugaredLogger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	conn, err := nats.Connect(url,
		nats.Name("tdrf-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", util.RedactString(url), err)
	}
	s := newNATSSink(conn, subject, logger)
	s.conn = conn
	return s, nil
}

func newNATSSink(pub natsPublisher, subject string, logger *zap.SugaredLogger) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, logger: logger}
}

// AddAlert publishes alert.
func (s *NATSSink) AddAlert(alert *core.Alert) (string, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return "", fmt.Errorf("failed to publish alert to %s: %w", s.subject, err)
	}
	return alert.CorrelationID, nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
