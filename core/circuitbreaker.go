package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState string

const (
	// CircuitBreakerStateClosed means requests pass through normally
	CircuitBreakerStateClosed CircuitBreakerState = "closed"
	// CircuitBreakerStateOpen means requests fail immediately
	CircuitBreakerStateOpen CircuitBreakerState = "open"
	// CircuitBreakerStateHalfOpen means a trial request is testing recovery
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitBreakerOpen is returned when circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial budget is used up
	ErrTooManyRequests = errors.New("too many requests")
	// ErrInvalidCircuitBreakerConfig is returned when circuit breaker config is invalid
	ErrInvalidCircuitBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures uint32 `mapstructure:"max_failures"`
	// Timeout is how long the circuit stays open before a trial request is allowed
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxHalfOpenRequests is the number of concurrent trial requests in half-open state
	MaxHalfOpenRequests uint32 `mapstructure:"max_half_open_requests"`
}

// Validate checks if the circuit breaker configuration is valid
func (c *CircuitBreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig returns the settings used for notification
// destinations: open after 3 straight failures, retry after a minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             60 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker stops calling a failing destination until it has had time
// to recover. Safe for concurrent use.
type CircuitBreaker struct {
	name         string
	config       CircuitBreakerConfig
	now          func() time.Time
	state        CircuitBreakerState
	failures     uint32
	lastFailTime time.Time
	halfOpenReqs uint32
	mu           sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircuitBreakerConfig, err)
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitBreakerStateClosed,
	}, nil
}

// Name returns the name the breaker was created with
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow checks if a request may proceed. Every nil return must be followed by
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerStateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.state = CircuitBreakerStateHalfOpen
		cb.halfOpenReqs = 1
		return nil

	case CircuitBreakerStateHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenReqs++
		return nil
	}
	return nil
}

// RecordSuccess records a successful request and returns the transition
func (cb *CircuitBreaker) RecordSuccess() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.failures = 0
	if cb.state == CircuitBreakerStateHalfOpen {
		cb.state = CircuitBreakerStateClosed
		cb.halfOpenReqs = 0
	}
	return oldState, cb.state
}

// RecordFailure records a failed request and returns the transition
func (cb *CircuitBreaker) RecordFailure() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.lastFailTime = cb.now()
	cb.failures++

	switch cb.state {
	case CircuitBreakerStateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = CircuitBreakerStateOpen
		}
	case CircuitBreakerStateHalfOpen:
		cb.state = CircuitBreakerStateOpen
		cb.halfOpenReqs = 0
	}
	return oldState, cb.state
}

// Execute runs fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Execute(fn func() error) error {
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

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset returns the breaker to the closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerStateClosed
	cb.failures = 0
	cb.halfOpenReqs = 0
}
