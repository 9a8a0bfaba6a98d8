package data

import (
	"context"

	"RelayLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// NoopWebhookService implements biz.WebhookService by logging events only.
type NoopWebhookService struct {
	logger *log.Helper
}

// NewNoopWebhookService creates a new noop webhook service
func NewNoopWebhookService(logger log.Logger) *NoopWebhookService {
	return &NoopWebhookService{
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerOpened logs an opened breaker.
func (s *NoopWebhookService) NotifyBreakerOpened(_ context.Context, event *model.BreakerOpenedEvent) error {
	s.logger.Infow("msg", "breaker opened (webhook disabled)",
		"provider", event.Provider,
		"failure_count", event.FailureCount,
		"from_half_open", event.FromHalfOpen,
		"opened_at", event.OpenedAt,
		"type", "breaker")
	return nil
}

// NotifyBreakerRecovered logs a recovered breaker.
func (s *NoopWebhookService) NotifyBreakerRecovered(_ context.Context, event *model.BreakerRecoveredEvent) error {
	s.logger.Infow("msg", "breaker recovered (webhook disabled)",
		"provider", event.Provider,
		"probe_count", event.ProbeCount,
		"recover_time", event.RecoverTime.String(),
		"manual", event.Manual,
		"type", "breaker")
	return nil
}
