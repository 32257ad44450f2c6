// Package resilience provides a circuit breaker for optional backing stores.
// The history cache is the main consumer: when Redis misbehaves the breaker
// opens and history reads go straight to the database instead of eating a
// timeout on every request.
package resilience

import (
	"errors"
	"sync"
	"time"

	"spotlight/backend/pkg/logger"
)

// ErrOpen is returned while the breaker is rejecting calls
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position
type State string

const (
	// StateClosed allows all calls
	StateClosed State = "closed"
	// StateOpen rejects calls until the retry timeout elapses
	StateOpen State = "open"
	// StateHalfOpen admits trial calls after the retry timeout
	StateHalfOpen State = "half-open"
)

// Config tunes a circuit breaker.
type Config struct {
	Name string
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold uint
	// SuccessThreshold is the trial-success count that re-closes it
	SuccessThreshold uint
	// RetryTimeout is how long the circuit stays open before trial calls
	RetryTimeout time.Duration
}

// DefaultConfig returns the thresholds used for the history cache
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitBreaker counts consecutive failures and short-circuits calls to a
// dependency that keeps failing. Safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold uint
	successThreshold uint
	retryTimeout     time.Duration
	log              *logger.Logger

	mu          sync.Mutex
	state       State
	failures    uint
	successes   uint
	nextAttempt time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		retryTimeout:     cfg.RetryTimeout,
		log:              log,
		state:            StateClosed,
	}
}

// Execute runs fn unless the circuit is open, recording the outcome.
// Returns ErrOpen without calling fn while the circuit is rejecting.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.recordFailure(err)
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the breaker's current position
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().After(cb.nextAttempt) {
			cb.state = StateHalfOpen
			cb.successes = 0
			cb.log.Info("circuit breaker half-open", "name", cb.name)
			return true
		}
		return false
	case StateHalfOpen:
		return cb.successes < cb.successThreshold
	}
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.log.Info("circuit breaker closed", "name", cb.name)
		}
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
	cb.log.Warn("circuit breaker recorded failure", "name", cb.name, "error", err.Error())
}

// open must be called with the lock held
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.nextAttempt = time.Now().Add(cb.retryTimeout)
	cb.log.Warn("circuit breaker opened", "name", cb.name, "retry_at", cb.nextAttempt.Format(time.RFC3339))
}
