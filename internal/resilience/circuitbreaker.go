// Package resilience guards calls to a shared dependency with a circuit
// breaker, so a dependency that keeps failing is bypassed for a while
// instead of adding its timeout to every request.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows calls through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxRequests is the number of concurrent probes allowed while half-open.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the defaults used for the shared state store.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             10 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreaker implements the circuit breaker pattern. It is safe for concurrent use.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	config        CircuitBreakerConfig
	state         CircuitState
	failures      int
	successes     int
	inFlight      int
	openedAt      time.Time
	now           func() time.Time
	onStateChange StateChangeFunc
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChange registers a transition observer. It runs synchronously,
// after the breaker lock is released.
func WithStateChange(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// NewCircuitBreaker creates a closed circuit breaker. Zero config fields take defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: cfg.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may go to the guarded dependency.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var from CircuitState
	changed := false
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
			from, changed = cb.setState(StateHalfOpen)
			cb.inFlight = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.inFlight < cb.config.HalfOpenMaxRequests {
			cb.inFlight++
			allowed = true
		}
	}
	cb.mu.Unlock()

	cb.notify(from, StateHalfOpen, changed)
	return allowed
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var from CircuitState
	changed := false

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.inFlight--
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			from, changed = cb.setState(StateClosed)
		}
	}
	cb.mu.Unlock()

	cb.notify(from, StateClosed, changed)
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var from CircuitState
	changed := false

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			from, changed = cb.setState(StateOpen)
		}
	case StateHalfOpen:
		from, changed = cb.setState(StateOpen)
	}
	cb.mu.Unlock()

	cb.notify(from, StateOpen, changed)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.setState(StateClosed)
	cb.mu.Unlock()

	cb.notify(from, StateClosed, changed)
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to CircuitState) (CircuitState, bool) {
	from := cb.state
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	cb.state = to
	return from, from != to
}

func (cb *CircuitBreaker) notify(from, to CircuitState, changed bool) {
	if changed && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
