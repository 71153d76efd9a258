package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrInvalidBreakerConfig is returned for a zero-valued threshold or cooldown.
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32 `mapstructure:"max_failures" validate:"min=1"`
	// Cooldown is how long the breaker stays open before a probe is allowed.
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

// DefaultBreakerConfig matches the settings used for outbound alert delivery.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Cooldown: time.Minute}
}

// CircuitBreaker stops calling a failing remote sink until a cooldown elapses.
// In the half-open state a single probe is let through; its outcome decides
// whether the breaker closes or re-opens.
type CircuitBreaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker validates cfg and returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) (*CircuitBreaker, error) {
	if cfg.MaxFailures == 0 || cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("%w: max_failures=%d cooldown=%s", ErrInvalidBreakerConfig, cfg.MaxFailures, cfg.Cooldown)
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: BreakerClosed}, nil
}

// Allow returns nil if a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		return nil
	case BreakerHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probing = false
}

// RecordFailure counts a failure and opens the breaker once the threshold is
// reached. A failed probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
	cb.probing = false
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Do runs fn through the breaker and records its outcome.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
