// Package circuitbreaker wraps flaky downstream calls (Postgres, Redis)
// made from the matcher/watcher background loops so a stalled dependency
// degrades to fast failures instead of piling up goroutines on a hung
// connection.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of Closed, Open, Half-Open.
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

// Config configures a single breaker.
type Config struct {
	Name        string
	MaxFailures int
	Timeout     time.Duration
	MaxRequests int
	Logger      zerolog.Logger
}

// DefaultDatabaseConfig fails fast on Postgres calls: three consecutive
// failures open the breaker, retried after ten seconds.
func DefaultDatabaseConfig() Config {
	return Config{MaxFailures: 3, Timeout: 10 * time.Second, MaxRequests: 2}
}

// DefaultExternalAPIConfig tolerates more flakiness for Redis and other
// network dependencies that are expected to hiccup under load.
func DefaultExternalAPIConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 3}
}

// CircuitBreaker implements the Closed/Open/Half-Open state machine.
type CircuitBreaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	failures        int
	consecutiveSucc int
	lastStateChange time.Time
	halfOpenReqs    int
}

// New builds a breaker from config, filling in defaults for unset fields.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 3
	}
	return &CircuitBreaker{config: config, state: StateClosed, lastStateChange: time.Now()}
}

// Execute runs fn under the breaker, short-circuiting with an error when
// the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenReqs = 0
			cb.config.Logger.Info().Str("breaker", cb.config.Name).Msg("circuit breaker entering half-open state")
			return nil
		}
		return fmt.Errorf("circuit breaker %q is open", cb.config.Name)
	case StateHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxRequests {
			return fmt.Errorf("circuit breaker %q half-open limit reached", cb.config.Name)
		}
		cb.halfOpenReqs++
		return nil
	default:
		return fmt.Errorf("circuit breaker %q in unknown state", cb.config.Name)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveSucc = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
			cb.config.Logger.Warn().Str("breaker", cb.config.Name).Int("failures", cb.failures).Msg("circuit breaker opened")
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.config.Logger.Warn().Str("breaker", cb.config.Name).Msg("circuit breaker re-opened after half-open failure")
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.consecutiveSucc++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.consecutiveSucc >= cb.config.MaxRequests {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.config.Logger.Info().Str("breaker", cb.config.Name).Msg("circuit breaker closed after half-open recovery")
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}

// GetState returns the current state for monitoring.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Metrics reports a snapshot suitable for a status endpoint or log line.
type Metrics struct {
	Name               string
	State              string
	Failures           int
	ConsecutiveSuccess int
	LastStateChange    time.Time
}

func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Metrics{
		Name:               cb.config.Name,
		State:              cb.state.String(),
		Failures:           cb.failures,
		ConsecutiveSuccess: cb.consecutiveSucc,
		LastStateChange:    cb.lastStateChange,
	}
}
