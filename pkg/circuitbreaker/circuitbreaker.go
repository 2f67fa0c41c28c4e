// Package circuitbreaker stops calling a failing downstream for a while.
// The notification relay wraps the Notifier with one so that a dead broker
// does not turn every outbox tick into a wall of timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

var (
	// ErrCircuitOpen is returned while the circuit rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe quota is used up.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds breaker settings.
type Config struct {
	Name                string
	FailureThreshold    int
	SuccessThreshold    int
	OpenTimeout         time.Duration
	MaxHalfOpenRequests int
	OnStateChange       func(name string, from, to State)
	// IsFailure filters which errors count; nil counts every non-nil error.
	IsFailure func(error) bool
	Now       func() time.Time
}

// DefaultConfig returns defaults for a breaker called name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
		Now:                 time.Now,
	}
}

// Option configures a breaker.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithOpenTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.OpenTimeout = d
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithNow injects the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config Config

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	openedAt         time.Time
	halfOpenInFlight int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := DefaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{config: cfg, state: StateClosed}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.MaxHalfOpenRequests {
			cb.halfOpenInFlight++
			return nil
		}
		return ErrTooManyRequests
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if !failed {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		return
	}

	cb.successes = 0
	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
	if next == StateOpen {
		cb.openedAt = cb.config.Now()
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, prev, next)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// IsRejection reports whether err came from the breaker rather than the call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// NotifierBreaker is tuned for the notification transport: trip after a short
// run of failures and probe again after the given cool-down.
func NotifierBreaker(coolDown time.Duration, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"notifier",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithOpenTimeout(coolDown),
		WithOnStateChange(onStateChange),
	)
}
