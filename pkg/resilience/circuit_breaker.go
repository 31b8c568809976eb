// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, timeout and retry guards used
// around every tier call.
package resilience

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means the circuit breaker is working normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means the circuit breaker is blocking calls.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means a single probe call is testing whether the target recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// ErrCircuitOpen is the cause attached to rejections issued by an open breaker.
var ErrCircuitOpen = goerrors.New("circuit breaker open")

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the circuit breaker identifier for logging/metrics.
	Name string

	// Tier is reported as the origin of rejection errors.
	Tier tier.Name

	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int

	// ResetTimeout is how long after the last failure a probe call is admitted.
	ResetTimeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// IsFailure decides whether a returned error counts against the breaker.
	// Errors it rejects are neutral. Defaults to every error except CANCELLED.
	IsFailure func(error) bool

	// OnStateChange is invoked after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// CircuitBreakerStats is a point-in-time snapshot of breaker counters.
type CircuitBreakerStats struct {
	Name          string              `json:"name"`
	State         CircuitBreakerState `json:"state"`
	Failures      uint64              `json:"failures"`
	Successes     uint64              `json:"successes"`
	TimesOpened   uint64              `json:"timesOpened"`
	LastFailureAt *time.Time          `json:"lastFailureAt,omitempty"`
	LastSuccessAt *time.Time          `json:"lastSuccessAt,omitempty"`
}

// CircuitBreaker stops calls into a failing target and probes for recovery.
// It is safe for concurrent use; the lock is never held while the guarded call runs.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitBreakerState
	failures      uint64
	successes     uint64
	timesOpened   uint64
	lastFailureAt time.Time
	lastSuccessAt time.Time
	probing       bool
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaultResetTimeout
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	if config.Tier == "" {
		config.Tier = tier.Cascade
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.IsFailure == nil {
		config.IsFailure = countsAsFailure
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the breaker identifier.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Call executes fn unless the circuit is open and within its reset window.
// The outcome of fn is recorded and its error returned unchanged.
// A rejected call returns a non-retryable INTERNAL_ERROR wrapping ErrCircuitOpen.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	cb.notify(cb.record(probe, callErr))
	return callErr
}

// admit decides whether a call may proceed. Must not be called under lock.
func (cb *CircuitBreaker) admit() (bool, *stateChange, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil, nil
	case StateOpen:
		if !cb.resetWindowElapsed() {
			return false, nil, cb.rejection()
		}
		change := cb.transition(StateHalfOpen)
		cb.probing = true
		return true, change, nil
	case StateHalfOpen:
		if cb.probing {
			return false, nil, cb.rejection()
		}
		cb.probing = true
		return true, nil, nil
	}
	return false, nil, nil
}

// record applies the outcome of an admitted call.
func (cb *CircuitBreaker) record(probe bool, callErr error) *stateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	now := cb.config.Clock()

	if callErr != nil && !cb.config.IsFailure(callErr) {
		return nil
	}

	if callErr != nil {
		cb.failures++
		cb.lastFailureAt = now
		switch {
		case probe && cb.state == StateHalfOpen:
			cb.timesOpened++
			return cb.transition(StateOpen)
		case cb.state == StateClosed && cb.failures >= uint64(cb.config.FailureThreshold):
			cb.timesOpened++
			return cb.transition(StateOpen)
		}
		return nil
	}

	cb.successes++
	cb.lastSuccessAt = now
	switch cb.state {
	case StateHalfOpen:
		cb.failures = 0
		return cb.transition(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
	return nil
}

// resetWindowElapsed must be called under lock.
func (cb *CircuitBreaker) resetWindowElapsed() bool {
	return cb.config.Clock().Sub(cb.lastFailureAt) > cb.config.ResetTimeout
}

func (cb *CircuitBreaker) rejection() *errors.TierError {
	return errors.New(cb.config.Tier, errors.CodeInternal, false,
		"circuit breaker "+cb.config.Name+" is open", ErrCircuitOpen)
}

type stateChange struct {
	from, to CircuitBreakerState
}

// transition must be called under lock.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) *stateChange {
	from := cb.state
	cb.state = to
	if from == to {
		return nil
	}
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(change *stateChange) {
	if change == nil || cb.config.OnStateChange == nil {
		return
	}
	cb.config.OnStateChange(cb.config.Name, change.from, change.to)
}

// State returns the current circuit breaker state without mutating it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsAllowingRequests predicts whether a call issued now would be admitted.
// An open breaker whose reset window elapsed reports true; state is not changed.
func (cb *CircuitBreaker) IsAllowingRequests() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		return cb.resetWindowElapsed()
	default:
		return true
	}
}

// Reset forces the breaker closed and clears the failure count.
// Success and open counters are kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.transition(StateClosed)
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	cb.notify(change)
}

// Stats returns a snapshot of all counters and timestamps.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := CircuitBreakerStats{
		Name:        cb.config.Name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		TimesOpened: cb.timesOpened,
	}
	if !cb.lastFailureAt.IsZero() {
		at := cb.lastFailureAt
		stats.LastFailureAt = &at
	}
	if !cb.lastSuccessAt.IsZero() {
		at := cb.lastSuccessAt
		stats.LastSuccessAt = &at
	}
	return stats
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return goerrors.Is(err, ErrCircuitOpen)
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.HasCode(err, errors.CodeCancelled)
}
