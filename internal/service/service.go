// Package service adapts transport requests to the biz layer.
package service

import (
	"errors"

	"RelayLane/internal/biz"
	"RelayLane/pkg/metadata"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewGenerationService,
	NewAnalysisService,
	NewBreakerService,
)

// dispatchOptions builds the per-call dispatch options shared by generation
// and analysis requests.
func dispatchOptions(overrides metadata.Overrides, providers []string, fallback *bool) []biz.DispatchOption {
	opts := []biz.DispatchOption{biz.WithCredentials(overrides)}
	if len(providers) > 0 {
		opts = append(opts, biz.WithProviders(providers...))
	}
	if fallback != nil {
		opts = append(opts, biz.WithFallback(*fallback))
	}
	return opts
}

// transportError converts dispatch failures into Kratos errors.
func transportError(err error) error {
	var exhausted *biz.ProvidersExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.KratosError()
	}
	return err
}

func invalidRequest(msg string) error {
	return kerrors.BadRequest(biz.ReasonInvalidRequest, msg)
}
