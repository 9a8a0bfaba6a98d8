package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key prefixes
const (
	// CacheKeyAnalysis is the default prefix for analysis records: analysis:{id}
	CacheKeyAnalysis = "analysis"
	// CacheKeyRate is the prefix for rate limit counters: rate:{provider}:{window}
	CacheKeyRate = "rate"
	// cacheKeyIndex is appended to a record prefix to name its id set: analysis:index
	cacheKeyIndex = "index"
)

// Cache TTL durations
const (
	// TTLRate is the TTL for rate limit counters (1 minute)
	TTLRate = 1 * time.Minute
	// TTLAnalysis is the default TTL for stored analyses (24 hours)
	TTLAnalysis = 24 * time.Hour
)

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient defines the interface for cache operations.
// Implementations must be thread-safe and handle serialization/deserialization.
type CacheClient interface {
	// Get retrieves a value from cache and deserializes it into dest.
	// Returns ErrCacheNotFound if key doesn't exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in cache with the specified TTL.
	// The value is serialized to JSON before storage. A zero TTL never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes keys from cache.
	Delete(ctx context.Context, keys ...string) error

	// Exists checks if a key exists in cache.
	Exists(ctx context.Context, key string) (bool, error)

	// AddToIndex adds members to the set stored at index.
	AddToIndex(ctx context.Context, index string, members ...string) error

	// RemoveFromIndex removes members from the set stored at index.
	RemoveFromIndex(ctx context.Context, index string, members ...string) error

	// IndexMembers returns every member of the set stored at index.
	IndexMembers(ctx context.Context, index string) ([]string, error)
}

// redisCache is the Redis-based implementation of CacheClient.
type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a new Redis-based cache client.
// If the Redis client is nil, cache operations will gracefully fail.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

var errCacheNilClient = errors.New("cache: redis client is nil")

// Get retrieves a value from cache and deserializes it into dest.
// Returns ErrCacheNotFound if the key doesn't exist (redis.Nil).
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return errCacheNilClient
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

// Set stores a value in cache with the specified TTL.
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return errCacheNilClient
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}

	return nil
}

// Delete removes keys from cache. Missing keys are ignored.
func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil {
		return errCacheNilClient
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete keys %v: %w", keys, err)
	}

	return nil
}

// Exists checks if a key exists in cache.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, errCacheNilClient
	}

	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check existence of key %s: %w", key, err)
	}

	return count > 0, nil
}

// AddToIndex adds members to a Redis set.
func (c *redisCache) AddToIndex(ctx context.Context, index string, members ...string) error {
	if c.client == nil {
		return errCacheNilClient
	}
	if len(members) == 0 {
		return nil
	}

	if err := c.client.SAdd(ctx, index, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("cache: failed to add to index %s: %w", index, err)
	}
	return nil
}

// RemoveFromIndex removes members from a Redis set.
func (c *redisCache) RemoveFromIndex(ctx context.Context, index string, members ...string) error {
	if c.client == nil {
		return errCacheNilClient
	}
	if len(members) == 0 {
		return nil
	}

	if err := c.client.SRem(ctx, index, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("cache: failed to remove from index %s: %w", index, err)
	}
	return nil
}

// IndexMembers returns the members of a Redis set, empty if it does not exist.
func (c *redisCache) IndexMembers(ctx context.Context, index string) ([]string, error) {
	if c.client == nil {
		return nil, errCacheNilClient
	}

	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: failed to read index %s: %w", index, err)
	}
	return members, nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// BuildCacheKey constructs a cache key with the appropriate prefix.
// Examples:
//   - BuildCacheKey(CacheKeyAnalysis, "7f0c") -> "analysis:7f0c"
//   - BuildCacheKey(CacheKeyRate, "primary", "rpm") -> "rate:primary:rpm"
func BuildCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
