package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tdrf/core"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const amqpPublishTimeout = 5 * time.Second

// amqpPublisher is the subset of *amqp.Channel used by AMQPSink.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes alerts to a RabbitMQ exchange.
type AMQPSink struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	pub        amqpPublisher
	exchange   string
	routingKey string
	logger     *zap.SugaredLogger
}

// NewAMQPSink dials url and declares exchange (when non-empty) as a durable
// topic exchange.
func NewAMQPSink(url, exchange, routingKey string, logger *zap.SugaredLogger) (*AMQPSink, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}
	s := newAMQPSink(ch, exchange, routingKey, logger)
	s.conn = conn
	s.channel = ch
	return s, nil
}

func newAMQPSink(pub amqpPublisher, exchange, routingKey string, logger *zap.SugaredLogger) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange, routingKey: routingKey, logger: logger}
}

// AddAlert publishes alert as a persistent JSON message.
func (s *AMQPSink) AddAlert(alert *core.Alert) (string, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.pub.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    alert.CorrelationID,
		Timestamp:    alert.Timestamp,
		Type:         alert.AlertType,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish alert: %w", err)
	}
	return alert.CorrelationID, nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debugf("Failed to close AMQP channel: %v", err)
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
