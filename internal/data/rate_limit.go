package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// errRedisUnavailable is returned by repositories built without a Redis client.
var errRedisUnavailable = errors.New("redis client is nil")

// RateLimitRepo implements biz.RateLimitRepo.
// Counters are fixed one-minute windows keyed by provider name.
type RateLimitRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRateLimitRepo creates a new rate limit repository.
func NewRateLimitRepo(rdb *redis.Client, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
	}
}

// IncrementRPM increments the request counter of a provider.
// The window starts with the first increment.
func (r *RateLimitRepo) IncrementRPM(ctx context.Context, provider string) (int32, error) {
	if r.rdb == nil {
		return 0, errRedisUnavailable
	}

	key := getRateLimitKey(provider, "rpm")

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment RPM: %w", err)
	}

	if count == 1 {
		if err := r.rdb.Expire(ctx, key, TTLRate).Err(); err != nil {
			r.logger.Warnf("Failed to set RPM expiration for provider %s: %v", provider, err)
		}
	}

	return clampInt32(count), nil
}

// GetRPMCount returns the current request count, 0 if the window is empty.
func (r *RateLimitRepo) GetRPMCount(ctx context.Context, provider string) (int32, error) {
	return r.getCount(ctx, getRateLimitKey(provider, "rpm"))
}

// IncrementTPM adds tokens to the provider's token counter. tokens may be
// negative to correct an earlier estimate.
func (r *RateLimitRepo) IncrementTPM(ctx context.Context, provider string, tokens int32) (int32, error) {
	if r.rdb == nil {
		return 0, errRedisUnavailable
	}

	key := getRateLimitKey(provider, "tpm")

	_, err := r.rdb.Get(ctx, key).Result()
	isFirstIncrement := errors.Is(err, redis.Nil)

	count, err := r.rdb.IncrBy(ctx, key, int64(tokens)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment TPM: %w", err)
	}

	if isFirstIncrement {
		if err := r.rdb.Expire(ctx, key, TTLRate).Err(); err != nil {
			r.logger.Warnf("Failed to set TPM expiration for provider %s: %v", provider, err)
		}
	}

	return clampInt32(count), nil
}

// GetTPMCount returns the current token count, 0 if the window is empty.
func (r *RateLimitRepo) GetTPMCount(ctx context.Context, provider string) (int32, error) {
	return r.getCount(ctx, getRateLimitKey(provider, "tpm"))
}

func (r *RateLimitRepo) getCount(ctx context.Context, key string) (int32, error) {
	if r.rdb == nil {
		return 0, errRedisUnavailable
	}

	count, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}

	n, err := strconv.ParseInt(count, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}

	return int32(n), nil
}

func clampInt32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v) // #nosec G115 -- clamped above
}

// getRateLimitKey generates a Redis key for rate limiting.
// Format: rate:{provider}:{type}
// Example: rate:primary:rpm
func getRateLimitKey(provider, limitType string) string {
	return BuildCacheKey(CacheKeyRate, provider, limitType)
}
