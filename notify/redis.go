package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tdrf/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// RedisConfig configures RedisSink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ListKey receives alerts newest first.
	ListKey string
	// Channel, if set, receives every alert via PUBLISH.
	Channel string
	// MaxLen caps the list length; 0 keeps everything.
	MaxLen int64
}

// RedisSink pushes alerts onto a Redis list and optionally publishes them.
type RedisSink struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.SugaredLogger
}

// NewRedisSink creates a Redis sink. The connection is established lazily;
// call Ping to check it up front.
func NewRedisSink(cfg RedisConfig, logger *zap.SugaredLogger) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisSink{client: client, cfg: cfg, logger: logger}
}

// Ping tests the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// AddAlert stores alert and returns its correlation id.
func (s *RedisSink) AddAlert(alert *core.Alert) (string, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.cfg.ListKey, data)
	if s.cfg.MaxLen > 0 {
		pipe.LTrim(ctx, s.cfg.ListKey, 0, s.cfg.MaxLen-1)
	}
	if s.cfg.Channel != "" {
		pipe.Publish(ctx, s.cfg.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store alert in redis: %w", err)
	}
	return alert.CorrelationID, nil
}

// Recent returns up to n stored alerts, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]*core.Alert, error) {
	raw, err := s.client.LRange(ctx, s.cfg.ListKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts from redis: %w", err)
	}
	alerts := make([]*core.Alert, 0, len(raw))
	for _, item := range raw {
		var a core.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			s.logger.Warnf("Skipping undecodable alert in %s: %v", s.cfg.ListKey, err)
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}
