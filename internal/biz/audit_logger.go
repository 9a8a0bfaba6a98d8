package biz

import (
	"context"
	"time"

	"RelayLane/internal/model"
)

// AuditLogger defines the interface for breaker audit logging
type AuditLogger interface {
	// LogBreakerOpened logs a breaker that stopped admitting calls
	LogBreakerOpened(ctx context.Context, provider string, failureCount int, fromHalfOpen bool, openedAt time.Time)

	// LogBreakerRecovered logs a breaker closed by a successful probe
	LogBreakerRecovered(ctx context.Context, provider string, recoverTime time.Duration, probeCount int)

	// LogBreakerReset logs an administrative reset
	LogBreakerReset(ctx context.Context, provider string, from model.BreakerState)
}
