package model

import "time"

// BreakerTransition is emitted whenever a breaker changes state.
type BreakerTransition struct {
	Provider string
	From     BreakerState
	To       BreakerState
	At       time.Time
	// FailureCount is the failure counter that caused the transition, if any.
	FailureCount int
	// HalfOpenAttempts is the number of failed probes in half-open state.
	HalfOpenAttempts int
	// OpenedAt is when the breaker last opened, zero if it never did.
	OpenedAt time.Time
	// Manual is set for administrative resets.
	Manual bool
}

// BreakerOpenedEvent represents a breaker that stopped admitting calls.
type BreakerOpenedEvent struct {
	Provider     string
	FailureCount int
	FromHalfOpen bool
	OpenedAt     time.Time
}

// BreakerRecoveredEvent represents a breaker that closed again.
type BreakerRecoveredEvent struct {
	Provider    string
	ProbeCount  int
	RecoverTime time.Duration
	Manual      bool
}
