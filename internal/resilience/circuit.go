// Package resilience classifies pipeline failures and provides the retry
// policy and circuit breaker shared by every I/O boundary.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen lets a single trial call through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open. It is classed as TRANSIENT_NETWORK.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// Name labels log lines. Default: "service".
	Name string
	// FailureThreshold is the number of consecutive transient failures
	// before the circuit opens. Default: 5.
	FailureThreshold int
	// Cooldown is how long the circuit stays open. Default: 30s.
	Cooldown time.Duration
}

// Breaker guards one remote endpoint. Only transient failures count toward
// the threshold; a permanent failure means the endpoint answered.
type Breaker struct {
	cfg   BreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures int
	openedAt time.Time
	// trial is set while the half-open trial call is in flight.
	trial bool

	now func() time.Time
}

// NewBreaker creates a breaker with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "service"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value. A nil breaker
// runs fn directly.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	var zero T
	trial, err := b.allow()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err, trial)
	return val, err
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// allow admits a call. Once the cool-down elapses exactly one caller is let
// through as the trial; others are rejected until its outcome is recorded.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		return false, nil
	case CircuitHalfOpen:
		if b.trial {
			return false, ErrCircuitOpen
		}
	default:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.setState(CircuitHalfOpen)
	}
	b.trial = true
	return true, nil
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if trial && b.state == CircuitHalfOpen {
			b.setState(CircuitClosed)
		}
		return
	}

	b.failures++
	if (trial && b.state == CircuitHalfOpen) || (b.state == CircuitClosed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = b.now()
		b.setState(CircuitOpen)
	}
}

func (b *Breaker) setState(to CircuitState) {
	if b.state == to {
		return
	}
	zap.L().Warn("circuit state change",
		zap.String("service", b.cfg.Name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}
