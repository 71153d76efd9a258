package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"tdrf/core"
	"tdrf/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FeederConfig controls a Feeder.
type FeederConfig struct {
	Format Format
	// RateLimit is the maximum events per second; 0 disables throttling.
	RateLimit float64
	Burst     int
	// SkipInvalid drops records that fail mapping or validation instead of
	// stopping the feed.
	SkipInvalid bool
}

// FeedResult summarizes a completed feed.
type FeedResult struct {
	Fed     int `json:"fed"`
	Skipped int `json:"skipped"`
}

// Feeder decodes events from a stream and pushes them onto a channel,
// optionally throttled.
type Feeder struct {
	cfg     FeederConfig
	limiter *rate.Limiter
	out     chan<- *core.Event
	logger  *zap.SugaredLogger
}

// NewFeeder creates a feeder writing to out.
func NewFeeder(cfg FeederConfig, out chan<- *core.Event, logger *zap.SugaredLogger) *Feeder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(cfg.RateLimit)))
	}
	return &Feeder{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		out:     out,
		logger:  logger,
	}
}

// Feed reads r until EOF, ctx cancellation or a fatal decode error. The
// output channel is not closed.
func (f *Feeder) Feed(ctx context.Context, r io.Reader) (FeedResult, error) {
	var res FeedResult
	dec := NewDecoder(r, f.cfg.Format)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		event, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		var recErr *RecordError
		if errors.As(err, &recErr) {
			if !f.cfg.SkipInvalid {
				return res, err
			}
			res.Skipped++
			metrics.EventsDropped.WithLabelValues("invalid").Inc()
			f.logger.Warnf("Skipping invalid event: %v", recErr)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to read events: %w", err)
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return res, err
		}
		select {
		case f.out <- event:
			res.Fed++
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}
