package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tdrf/config"
	"tdrf/core"
	"tdrf/notify"
	"tdrf/storage"

	"go.uber.org/zap"
)

// Sinks holds the configured alert sinks. Multi fans out to all of them.
type Sinks struct {
	Multi  *notify.MultiSink
	Memory *notify.MemorySink
	Store  *storage.SQLiteAlertStore

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// InitSinks builds every enabled sink. A sink that fails to initialize aborts
// startup; remote sinks get a classified error message.
func InitSinks(cfg *config.Config, sugar *zap.SugaredLogger) (*Sinks, error) {
	s := &Sinks{Multi: notify.NewMultiSink(sugar)}
	sc := cfg.Sinks

	if sc.Log.Enabled {
		s.Multi.Add("log", notify.NewLogSink(sugar))
	}

	if sc.Memory.Enabled {
		mem, err := notify.NewMemorySink(sc.Memory.Capacity)
		if err != nil {
			return nil, err
		}
		s.Memory = mem
		s.Multi.Add("memory", mem)
	}

	if sc.SQLite.Enabled {
		store, err := storage.OpenSQLiteAlertStore(sc.SQLite.Path, sugar)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open alert store at %s: %w", sc.SQLite.Path, err)
		}
		s.Store = store
		s.Multi.Add("sqlite", store)
		s.closers = append(s.closers, namedCloser{"sqlite", store})
	}

	if sc.Redis.Enabled {
		rs := notify.NewRedisSink(notify.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			ListKey:  sc.Redis.ListKey,
			Channel:  sc.Redis.Channel,
			MaxLen:   sc.Redis.MaxLen,
		}, sugar)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			_ = rs.Close()
			s.Close()
			sugar.Error(ClassifyConnectionError(err, "Redis", sc.Redis.Addr))
			return nil, fmt.Errorf("%w: redis: %v", core.ErrSinkUnavailable, err)
		}
		s.Multi.Add("redis", rs)
		s.closers = append(s.closers, namedCloser{"redis", rs})
	}

	if sc.Webhook.Enabled {
		var minSev core.Severity
		if sc.Webhook.MinSeverity != "" {
			sev, err := core.ParseSeverity(sc.Webhook.MinSeverity)
			if err != nil {
				s.Close()
				return nil, err
			}
			minSev = sev
		}
		wh, err := notify.NewWebhookSink(notify.WebhookConfig{
			URL:         sc.Webhook.URL,
			Headers:     sc.Webhook.Headers,
			Timeout:     time.Duration(sc.Webhook.TimeoutSeconds) * time.Second,
			MinSeverity: minSev,
			Breaker: core.BreakerConfig{
				MaxFailures: uint32(sc.Webhook.MaxFailures),
				Cooldown:    time.Duration(sc.Webhook.CooldownSeconds) * time.Second,
			},
		}, sugar)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Multi.Add("webhook", wh)
	}

	if sc.NATS.Enabled {
		ns, err := notify.NewNATSSink(sc.NATS.URL, sc.NATS.Subject, sugar)
		if err != nil {
			s.Close()
			sugar.Error(ClassifyConnectionError(err, "NATS", sc.NATS.URL))
			return nil, fmt.Errorf("%w: nats: %v", core.ErrSinkUnavailable, err)
		}
		s.Multi.Add("nats", ns)
		s.closers = append(s.closers, namedCloser{"nats", ns})
	}

	if sc.AMQP.Enabled {
		as, err := notify.NewAMQPSink(sc.AMQP.URL, sc.AMQP.Exchange, sc.AMQP.RoutingKey, sugar)
		if err != nil {
			s.Close()
			sugar.Error(ClassifyConnectionError(err, "RabbitMQ", sc.AMQP.URL))
			return nil, fmt.Errorf("%w: amqp: %v", core.ErrSinkUnavailable, err)
		}
		s.Multi.Add("amqp", as)
		s.closers = append(s.closers, namedCloser{"amqp", as})
	}

	sugar.Infof("Alert sinks enabled: %v", s.Multi.Names())
	return s, nil
}

// Close releases sink connections in reverse order of creation.
func (s *Sinks) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.closers[i].name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
