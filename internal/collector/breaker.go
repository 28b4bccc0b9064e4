package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/phuslu/log"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected until the reset timeout elapses
	BreakerHalfOpen                     // one trial call in flight, others rejected
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the provider breaker is open.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// CircuitBreaker stops calling a failing provider. After maxFailures
// consecutive failures it opens for resetTimeout, then lets one trial call through.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	trialing      bool
	now          func() time.Time
	name         string
}

// NewCircuitBreaker creates a closed breaker. maxFailures <= 0 disables it.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open. Failures seen after ctx is
// done are the caller giving up and do not count against the provider.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if cb == nil || cb.maxFailures <= 0 {
		return fn()
	}

	cb.mu.Lock()
	trial := false
	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transition(BreakerHalfOpen)
		cb.trialing, trial = true, true
	case BreakerHalfOpen:
		if cb.trialing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.trialing, trial = true, true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trialing = false
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(BreakerOpen)
		}
		return err
	}
	if cb.state == BreakerHalfOpen {
		cb.transition(BreakerClosed)
	}
	cb.failures = 0
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == BreakerClosed {
		cb.failures = 0
	}
	log.Warn().Str("provider", cb.name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
}
