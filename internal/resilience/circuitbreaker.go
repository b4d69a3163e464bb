// Package resilience provides retry, circuit breaker and provider failover
// primitives for the model and speech calls made during extraction.
//
// [Retry] re-runs a single call with exponential backoff. [CircuitBreaker] is
// a three-state breaker (closed, open, half-open) that stops hammering a
// provider that keeps failing. [FallbackGroup] composes several instances of
// one provider type, each behind its own breaker, so that a failing primary
// is bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen follows the reset timeout. Up to HalfOpenMax trial calls
	// go through; enough successes close the breaker and any failure re-opens
	// it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is how many trial calls the half-open state admits, and how
	// many must succeed before the breaker closes. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Errors
	// it rejects are returned to the caller but leave the breaker untouched.
	// Default: every error except context cancellation and deadline expiry.
	IsFailure func(error) bool

	// OnStateChange, if set, is called on every transition. It runs with the
	// breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// countsAsFailure is the default IsFailure: a caller giving up is not the
// provider's fault.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
		state:        StateClosed,
	}
}

// setState moves the breaker to state to. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	slog.Info("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax trial calls are in flight or counted at once.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.recordSuccess(inHalfOpen)
	case cb.isFailure(err):
		cb.recordFailure(inHalfOpen)
	case inHalfOpen:
		// The call proved nothing either way; free its trial slot.
		cb.halfOpenCalls--
	}
	return err
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.lastFailure = cb.now()

	if inHalfOpen {
		cb.halfOpenFails++
		// Any failure in half-open immediately re-opens.
		cb.consecutiveFail = cb.maxFailures
		cb.setState(StateOpen)
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		slog.Warn("circuit breaker tripped",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
		cb.setState(StateOpen)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		successes := cb.halfOpenCalls - cb.halfOpenFails
		if successes >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			cb.setState(StateClosed)
		}
		return
	}

	cb.consecutiveFail = 0
}

// State reports the breaker's state as the next [CircuitBreaker.Execute] would
// see it: an open breaker past its reset timeout reads as half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}
