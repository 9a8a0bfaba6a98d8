// Package data provides data access layer implementations.
// It holds provider clients, credentials, rate-limit counters, the analysis
// registry and the breaker audit trail.
package data

import (
	"context"
	"errors"

	"RelayLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewRateLimitRepo,
	NewAnalysisStore,
	NewProviderRegistry,
	NewCredentialStore,
	NewAuditLogger,
	NewNoopWebhookService,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient is the Redis client for counters and the optional registry
	redisClient *redis.Client
	// cache is the cache interface for repository use
	cache CacheClient
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, rate limiting and the redis registry will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// Ping checks the Redis connection. It fails when Redis is not configured.
func (d *Data) Ping(ctx context.Context) error {
	if d.redisClient == nil {
		return errors.New("redis client is nil")
	}
	return d.redisClient.Ping(ctx).Err()
}
