package biz

import (
	"fmt"
	"sync"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
)

// CircuitBreakerConfig holds the thresholds of one breaker. It is copied
// into each breaker on construction and never changes afterwards.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxAttempts int
	ResetTimeout        time.Duration
}

// DefaultCircuitBreakerConfig matches the configuration defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		HalfOpenMaxAttempts: 3,
		ResetTimeout:        300 * time.Second,
	}
}

// NewCircuitBreakerConfig converts the breaker configuration section.
func NewCircuitBreakerConfig(c *conf.Breaker) CircuitBreakerConfig {
	if c == nil {
		return DefaultCircuitBreakerConfig()
	}
	return CircuitBreakerConfig{
		FailureThreshold:    int(c.FailureThreshold),
		RecoveryTimeout:     c.RecoveryTimeout.AsDuration(),
		HalfOpenMaxAttempts: int(c.HalfOpenMaxAttempts),
		ResetTimeout:        c.ResetTimeout.AsDuration(),
	}
}

// Validate rejects thresholds below one.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.HalfOpenMaxAttempts < 1 {
		return fmt.Errorf("half_open_max_attempts must be >= 1, got %d", c.HalfOpenMaxAttempts)
	}
	if c.RecoveryTimeout < 0 || c.ResetTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChangeHook registers fn to be called after every state change.
// fn runs on the goroutine that caused the change, after the breaker lock
// has been released.
func WithStateChangeHook(fn func(model.BreakerTransition)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker gates calls to one provider based on its recent failures.
//
// OPEN moves to HALF_OPEN lazily: there is no timer, the transition happens
// inside the first CanExecute call made at least RecoveryTimeout after the
// last failure.
type CircuitBreaker struct {
	name     string
	cfg      CircuitBreakerConfig
	now      func() time.Time
	onChange func(model.BreakerTransition)

	mu               sync.Mutex
	state            model.BreakerState
	failureCount     int
	halfOpenAttempts int
	lastFailureTime  time.Time
	openedAt         time.Time
	resetTime        time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: model.BreakerClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the provider name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state without triggering the lazy OPEN check.
func (cb *CircuitBreaker) State() model.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CanExecute reports whether a call may be attempted now.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	var tr *model.BreakerTransition
	allowed := false

	switch cb.state {
	case model.BreakerClosed:
		allowed = true
	case model.BreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
			tr = cb.transition(model.BreakerHalfOpen)
			cb.halfOpenAttempts = 0
			allowed = true
		}
	case model.BreakerHalfOpen:
		allowed = cb.halfOpenAttempts < cb.cfg.HalfOpenMaxAttempts
	}

	cb.mu.Unlock()
	cb.emit(tr)
	return allowed
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var tr *model.BreakerTransition

	switch cb.state {
	case model.BreakerHalfOpen:
		tr = cb.transition(model.BreakerClosed)
		cb.failureCount = 0
		cb.halfOpenAttempts = 0
		cb.resetTime = cb.now().Add(cb.cfg.ResetTimeout)
	case model.BreakerClosed:
		cb.failureCount = 0
	}

	cb.mu.Unlock()
	cb.emit(tr)
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var tr *model.BreakerTransition
	now := cb.now()

	switch cb.state {
	case model.BreakerClosed:
		cb.failureCount++
		cb.lastFailureTime = now
		if cb.failureCount >= cb.cfg.FailureThreshold {
			tr = cb.transition(model.BreakerOpen)
			cb.openedAt = now
		}
	case model.BreakerHalfOpen:
		cb.halfOpenAttempts++
		cb.lastFailureTime = now
		if cb.halfOpenAttempts >= cb.cfg.HalfOpenMaxAttempts {
			tr = cb.transition(model.BreakerOpen)
			cb.openedAt = now
		}
	case model.BreakerOpen:
		cb.lastFailureTime = now
	}

	cb.mu.Unlock()
	cb.emit(tr)
}

// Reset forces the breaker closed and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var tr *model.BreakerTransition
	if cb.state != model.BreakerClosed {
		tr = cb.transition(model.BreakerClosed)
		tr.Manual = true
	}
	cb.failureCount = 0
	cb.halfOpenAttempts = 0
	cb.lastFailureTime = time.Time{}
	cb.mu.Unlock()
	cb.emit(tr)
}

// Snapshot copies the breaker's fields.
func (cb *CircuitBreaker) Snapshot() model.BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := model.BreakerSnapshot{
		Name:             cb.name,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		HalfOpenAttempts: cb.halfOpenAttempts,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		s.LastFailureTime = &t
	}
	if !cb.resetTime.IsZero() {
		t := cb.resetTime
		s.ResetTime = &t
	}
	return s
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to model.BreakerState) *model.BreakerTransition {
	tr := &model.BreakerTransition{
		Provider:         cb.name,
		From:             cb.state,
		To:               to,
		At:               cb.now(),
		FailureCount:     cb.failureCount,
		HalfOpenAttempts: cb.halfOpenAttempts,
		OpenedAt:         cb.openedAt,
	}
	cb.state = to
	return tr
}

func (cb *CircuitBreaker) emit(tr *model.BreakerTransition) {
	if tr != nil && cb.onChange != nil {
		cb.onChange(*tr)
	}
}
