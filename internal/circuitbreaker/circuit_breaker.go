// Package circuitbreaker guards calls to dependencies that can go away: the Postgres store
// and the third-party identity providers. After MaxFailures consecutive failures the
// breaker opens and rejects calls until Timeout has passed, then lets MaxRequests probes
// through in half-open state.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name        string
	MaxFailures int
	Timeout     time.Duration
	MaxRequests int

	// IsFailure decides which errors count against the breaker. Defaults to every
	// non-nil error except context cancellation by the caller.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// Snapshot is a point-in-time view of a breaker, served on /health.
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	TotalRequests  int64     `json:"total_requests"`
	TotalFailures  int64     `json:"total_failures"`
	TotalRejected  int64     `json:"total_rejected"`
	StateChanges   int64     `json:"state_changes"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
	LastTransition time.Time `json:"last_state_change,omitempty"`
}

type CircuitBreaker struct {
	name          string
	maxFailures   int
	timeout       time.Duration
	maxRequests   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time

	totalRequests   int64
	totalFailures   int64
	totalRejected   int64
	stateChanges    int64
	lastStateChange time.Time

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}

	return &CircuitBreaker{
		name:          config.Name,
		maxFailures:   config.MaxFailures,
		timeout:       config.Timeout,
		maxRequests:   config.MaxRequests,
		isFailure:     config.IsFailure,
		onStateChange: config.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
		logger:        logger,
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the breaker is open. The error from fn is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && cb.isFailure(err) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) < cb.timeout {
			cb.totalRejected++
			return fmt.Errorf("%s: %w", cb.name, ErrOpen)
		}
		cb.setState(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.maxRequests {
			cb.totalRejected++
			return fmt.Errorf("%s: %w", cb.name, ErrOpen)
		}
		cb.probes++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.totalFailures++
	cb.lastFailTime = cb.now()

	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0
	cb.stateChanges++
	cb.lastStateChange = cb.now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from_state":      prev.String(),
		"to_state":        next.String(),
	}).Info("Circuit breaker state changed")

	if cb.onStateChange != nil {
		go cb.notify(prev, next)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.onStateChange(cb.name, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:           cb.name,
		State:          cb.state.String(),
		Failures:       cb.failures,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalRejected:  cb.totalRejected,
		StateChanges:   cb.stateChanges,
		LastFailure:    cb.lastFailTime,
		LastTransition: cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.name, cb.state, cb.failures, cb.maxFailures)
}
