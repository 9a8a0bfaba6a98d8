package biz

import (
	"context"
	"time"

	"RelayLane/internal/model"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerEventNotifier forwards breaker transitions to the audit trail and
// the webhook service. Register Handle on the dispatcher.
type BreakerEventNotifier struct {
	audit   AuditLogger
	webhook WebhookService
	log     *pkglog.LogHelper
}

// NewBreakerEventNotifier creates a notifier and subscribes it to d.
func NewBreakerEventNotifier(d *Dispatcher, audit AuditLogger, webhook WebhookService, logger log.Logger) *BreakerEventNotifier {
	n := &BreakerEventNotifier{
		audit:   audit,
		webhook: webhook,
		log:     pkglog.NewLogHelper(logger),
	}
	if d != nil {
		d.RegisterStateChangeListener(n.Handle)
	}
	return n
}

// Handle maps one transition to audit and webhook calls. Transitions into
// half-open are only logged by the dispatcher.
func (n *BreakerEventNotifier) Handle(tr model.BreakerTransition) {
	// Listeners run on the caller's goroutine after the breaker lock is released
	ctx := context.Background()

	switch {
	case tr.Manual:
		n.audit.LogBreakerReset(ctx, tr.Provider, tr.From)
		n.recovered(ctx, &model.BreakerRecoveredEvent{
			Provider: tr.Provider,
			Manual:   true,
		})

	case tr.To == model.BreakerOpen:
		fromHalfOpen := tr.From == model.BreakerHalfOpen
		openedAt := tr.At
		n.audit.LogBreakerOpened(ctx, tr.Provider, tr.FailureCount, fromHalfOpen, openedAt)
		if err := n.webhook.NotifyBreakerOpened(ctx, &model.BreakerOpenedEvent{
			Provider:     tr.Provider,
			FailureCount: tr.FailureCount,
			FromHalfOpen: fromHalfOpen,
			OpenedAt:     openedAt,
		}); err != nil {
			n.log.Breaker("breaker opened webhook failed", "provider", tr.Provider, "error", err.Error())
		}

	case tr.From == model.BreakerHalfOpen && tr.To == model.BreakerClosed:
		var recoverTime time.Duration
		if !tr.OpenedAt.IsZero() {
			recoverTime = tr.At.Sub(tr.OpenedAt)
		}
		probes := tr.HalfOpenAttempts + 1
		n.audit.LogBreakerRecovered(ctx, tr.Provider, recoverTime, probes)
		n.recovered(ctx, &model.BreakerRecoveredEvent{
			Provider:    tr.Provider,
			ProbeCount:  probes,
			RecoverTime: recoverTime,
		})
	}
}

func (n *BreakerEventNotifier) recovered(ctx context.Context, event *model.BreakerRecoveredEvent) {
	if err := n.webhook.NotifyBreakerRecovered(ctx, event); err != nil {
		n.log.Breaker("breaker recovered webhook failed", "provider", event.Provider, "error", err.Error())
	}
}
