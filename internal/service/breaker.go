package service

import (
	"context"

	"RelayLane/internal/biz"
	"RelayLane/internal/model"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// ListBreakersReply lists every provider breaker in priority order.
type ListBreakersReply struct {
	FallbackEnabled bool                    `json:"fallback_enabled"`
	Breakers        []model.BreakerSnapshot `json:"breakers"`
}

// BreakerService exposes breaker inspection and administrative reset.
type BreakerService struct {
	dispatcher *biz.Dispatcher
	log        *pkglog.LogHelper
}

// NewBreakerService creates a BreakerService.
func NewBreakerService(d *biz.Dispatcher, logger log.Logger) *BreakerService {
	return &BreakerService{dispatcher: d, log: pkglog.NewLogHelper(logger)}
}

// List snapshots every breaker.
func (s *BreakerService) List(_ context.Context) (*ListBreakersReply, error) {
	return &ListBreakersReply{
		FallbackEnabled: s.dispatcher.FallbackEnabled(),
		Breakers:        s.dispatcher.Breakers(),
	}, nil
}

// Reset forces a provider's breaker closed.
func (s *BreakerService) Reset(ctx context.Context, provider string) (*model.BreakerSnapshot, error) {
	snap, err := s.dispatcher.ResetBreaker(provider)
	if err != nil {
		return nil, err
	}
	s.log.Breaker("breaker reset by operator",
		"request_id", pkglog.GetRequestID(ctx),
		"provider", provider)
	return &snap, nil
}
