package biz

import (
	"context"
	"fmt"
	"math"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderLimits are the per-minute quotas of one provider. Zero disables a limit.
type ProviderLimits struct {
	RPM int32
	TPM int32
}

// RateLimiterUseCase enforces provider RPM and TPM quotas with Redis-backed
// fixed one-minute windows. A limited provider is skipped by the dispatcher
// rather than counted as failed.
type RateLimiterUseCase struct {
	repo   RateLimitRepo
	logger *log.Helper
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(repo RateLimitRepo, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		repo:   repo,
		logger: log.NewHelper(logger),
	}
}

// RateLimitExceededError represents a rate limit exceeded error with retry information.
type RateLimitExceededError struct {
	LimitType    string // "RPM" or "TPM"
	CurrentCount int32
	Limit        int32
	RetryAfter   int64 // seconds
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s current=%d limit=%d retry_after=%ds",
		e.LimitType, e.CurrentCount, e.Limit, e.RetryAfter)
}

// Allow checks both quotas for one call. It returns the token estimate that
// was reserved so the caller can correct it with UpdateTPM afterwards.
func (uc *RateLimiterUseCase) Allow(ctx context.Context, provider string, limits ProviderLimits, prompt string, maxOutputTokens int32) (int32, error) {
	if uc == nil {
		return 0, nil
	}
	if err := uc.CheckRPM(ctx, provider, limits.RPM); err != nil {
		return 0, err
	}
	if limits.TPM <= 0 {
		return 0, nil
	}
	estimated := uc.EstimateTokens(prompt, maxOutputTokens)
	if err := uc.CheckTPM(ctx, provider, limits.TPM, estimated); err != nil {
		return 0, err
	}
	return estimated, nil
}

// CheckRPM increments the provider's request counter and rejects the call
// once the counter passes rpmLimit.
// Redis degradation: on Redis failure, logs warning and allows request.
func (uc *RateLimiterUseCase) CheckRPM(ctx context.Context, provider string, rpmLimit int32) error {
	if rpmLimit <= 0 {
		return nil
	}

	count, err := uc.repo.IncrementRPM(ctx, provider)
	if err != nil {
		uc.logger.Warnf("Redis RPM check failed for provider %s: %v (request allowed)", provider, err)
		return nil
	}

	if count > rpmLimit {
		uc.logger.Warnw("msg", "RPM limit exceeded",
			"provider", provider,
			"current", count,
			"limit", rpmLimit)
		return &RateLimitExceededError{LimitType: "RPM", CurrentCount: count, Limit: rpmLimit, RetryAfter: 60}
	}

	return nil
}

// CheckTPM reserves estimatedTokens against the provider's token quota.
// Redis degradation: on Redis failure, logs warning and allows request.
func (uc *RateLimiterUseCase) CheckTPM(ctx context.Context, provider string, tpmLimit int32, estimatedTokens int32) error {
	if tpmLimit <= 0 || estimatedTokens <= 0 {
		return nil
	}

	currentCount, err := uc.repo.GetTPMCount(ctx, provider)
	if err != nil {
		uc.logger.Warnf("Redis TPM get failed for provider %s: %v (request allowed)", provider, err)
		return nil
	}

	if currentCount+estimatedTokens > tpmLimit {
		uc.logger.Warnw("msg", "TPM limit would be exceeded",
			"provider", provider,
			"current", currentCount,
			"estimated", estimatedTokens,
			"limit", tpmLimit)
		return &RateLimitExceededError{LimitType: "TPM", CurrentCount: currentCount, Limit: tpmLimit, RetryAfter: 60}
	}

	if _, err := uc.repo.IncrementTPM(ctx, provider, estimatedTokens); err != nil {
		uc.logger.Warnf("Redis TPM increment failed for provider %s: %v (request allowed)", provider, err)
	}

	return nil
}

// UpdateTPM corrects the reserved estimate with the actual usage reported by the provider.
func (uc *RateLimiterUseCase) UpdateTPM(ctx context.Context, provider string, actualTokens int32, estimatedTokens int32) {
	if uc == nil || actualTokens <= 0 || estimatedTokens <= 0 {
		return
	}

	correction := actualTokens - estimatedTokens
	if correction == 0 {
		return
	}

	if _, err := uc.repo.IncrementTPM(ctx, provider, correction); err != nil {
		uc.logger.Warnf("Redis TPM correction failed for provider %s: %v (actual=%d estimated=%d)",
			provider, err, actualTokens, estimatedTokens)
		return
	}

	uc.logger.Debugw("msg", "TPM corrected",
		"provider", provider,
		"actual", actualTokens,
		"estimated", estimatedTokens,
		"correction", correction)
}

// EstimateTokens estimates the number of tokens for a request.
// Algorithm: tokens ≈ len(prompt) / 4 + max_output_tokens
func (uc *RateLimiterUseCase) EstimateTokens(prompt string, maxOutputTokens int32) int32 {
	promptTokens := int64(len(prompt) / 4)
	total := promptTokens + int64(maxOutputTokens)

	if total > math.MaxInt32 {
		total = math.MaxInt32
	}
	if total <= 0 {
		total = 1
	}

	return int32(total) // #nosec G115 -- clamped above
}
