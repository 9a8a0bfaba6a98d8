package biz

import (
	"context"

	"RelayLane/internal/model"
)

// WebhookService defines the interface for webhook notifications
type WebhookService interface {
	// NotifyBreakerOpened sends notification when a provider breaker opens
	NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error

	// NotifyBreakerRecovered sends notification when a provider breaker closes again
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error
}
