package biz

import (
	"context"
)

// RateLimitRepo defines the interface for per-provider rate limit counters.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.RateLimitRepo).
type RateLimitRepo interface {
	// RPM (Requests Per Minute) operations
	IncrementRPM(ctx context.Context, provider string) (int32, error)
	GetRPMCount(ctx context.Context, provider string) (int32, error)

	// TPM (Tokens Per Minute) operations
	IncrementTPM(ctx context.Context, provider string, tokens int32) (int32, error)
	GetTPMCount(ctx context.Context, provider string) (int32, error)
}
