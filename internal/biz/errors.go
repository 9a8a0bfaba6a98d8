package biz

import (
	"strings"

	"github.com/go-kratos/kratos/v2/errors"

	"RelayLane/internal/model"
)

// Error reasons returned to transport callers.
const (
	ReasonNoProvidersAvailable   = "NO_PROVIDERS_AVAILABLE"
	ReasonAllProvidersExhausted  = "ALL_PROVIDERS_EXHAUSTED"
	ReasonUnknownProvider        = "UNKNOWN_PROVIDER"
	ReasonAnalysisCapacity       = "ANALYSIS_CAPACITY_EXCEEDED"
	ReasonAnalysisNotFound       = "ANALYSIS_NOT_FOUND"
	ReasonAnalysisNotCancellable = "ANALYSIS_NOT_CANCELLABLE"
	ReasonInvalidAnalysis        = "INVALID_ANALYSIS"
	ReasonInvalidRequest         = "INVALID_REQUEST"
)

var (
	// ErrNoProvidersAvailable is returned when a dispatch has no providers to try.
	ErrNoProvidersAvailable = errors.ServiceUnavailable(ReasonNoProvidersAvailable, "no providers available")
	// ErrAnalysisCapacity is returned when max_concurrent_analyses are processing.
	ErrAnalysisCapacity = errors.New(429, ReasonAnalysisCapacity, "too many analyses processing")
	// ErrAnalysisNotFound is returned for unknown or swept analysis ids.
	ErrAnalysisNotFound = errors.NotFound(ReasonAnalysisNotFound, "analysis not found")
	// ErrAnalysisNotCancellable is returned when cancelling a finished analysis.
	ErrAnalysisNotCancellable = errors.Conflict(ReasonAnalysisNotCancellable, "analysis already finished")
)

// newUnknownProviderError reports a provider name with no registration.
func newUnknownProviderError(name string) error {
	return errors.NotFound(ReasonUnknownProvider, "unknown provider: "+name)
}

// ProvidersExhaustedError is returned when every provider in a chain was
// skipped or failed. Attempts holds one entry per provider, in chain order.
type ProvidersExhaustedError struct {
	Attempts []model.DispatchAttempt
}

// Error joins "{provider}: {reason}" lines in chain order.
func (e *ProvidersExhaustedError) Error() string {
	lines := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		lines = append(lines, a.Provider+": "+a.Reason)
	}
	return strings.Join(lines, "\n")
}

// KratosError converts the error for transport with the per-provider reasons as metadata.
func (e *ProvidersExhaustedError) KratosError() *errors.Error {
	md := make(map[string]string, len(e.Attempts))
	for _, a := range e.Attempts {
		md[a.Provider] = a.Reason
	}
	return errors.ServiceUnavailable(ReasonAllProvidersExhausted, e.Error()).WithMetadata(md)
}
