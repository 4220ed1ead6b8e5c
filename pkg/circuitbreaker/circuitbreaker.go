package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the wrapped function while the
// breaker is open, or while a half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successful probes to close from half-open
	Timeout          time.Duration // Time to stay open before probing
	ResetTimeout     time.Duration // Idle time after which the failure count is forgotten
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	State     string    `json:"state"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	LastFail  time.Time `json:"last_fail,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config    Config
	state     State
	failures  int
	successes int
	probing   bool
	lastFail  time.Time
	onChange  func(from, to State)
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a new circuit breaker
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnStateChange registers a hook called (under the breaker lock) on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Execute executes a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		return ErrOpen
	}

	err := fn()
	cb.recordResult(ctx, err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		if cb.config.ResetTimeout > 0 && cb.failures > 0 && now.Sub(cb.lastFail) > cb.config.ResetTimeout {
			cb.failures = 0
		}
		return true
	case StateOpen:
		if now.Sub(cb.lastFail) < cb.config.Timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.successes = 0
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// recordResult records the result of an operation. A cancelled caller
// says nothing about the health of the dependency and is not counted.
func (cb *CircuitBreaker) recordResult(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	if err != nil {
		cb.failures++
		cb.lastFail = cb.now()
		switch cb.state {
		case StateHalfOpen:
			cb.transition(StateOpen)
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.transition(StateOpen)
			}
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:     cb.state.String(),
		Failures:  cb.failures,
		Successes: cb.successes,
		LastFail:  cb.lastFail,
	}
}
