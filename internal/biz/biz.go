// Package biz contains business logic layer implementations.
// This layer holds the circuit breaker, the provider fallback dispatcher and
// the task orchestrator.
package biz

import (
	"RelayLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRateLimiterUseCase,
	NewDispatcher,
	NewOrchestrator,
	NewBreakerEventNotifier,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(RateLimitRepo), new(*data.RateLimitRepo)),
	wire.Bind(new(CredentialResolver), new(*data.CredentialStore)),
	wire.Bind(new(AnalysisRepo), new(data.AnalysisStore)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(WebhookService), new(*data.NoopWebhookService)),
)
