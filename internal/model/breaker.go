package model

import "time"

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a point-in-time copy of a breaker's fields.
type BreakerSnapshot struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	HalfOpenAttempts int          `json:"half_open_attempts"`
	LastFailureTime  *time.Time   `json:"last_failure_time,omitempty"`
	ResetTime        *time.Time   `json:"reset_time,omitempty"`
}
