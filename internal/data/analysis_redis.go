package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RelayLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RedisAnalysisRepo stores analyses as JSON documents with an id set for listing.
//
// Keys:
//   - {prefix}:{id}    analysis document
//   - {prefix}:index   set of stored ids
//
// Processing analyses are stored without expiry. Terminal analyses expire
// after ttl as a backstop for the retention sweep.
type RedisAnalysisRepo struct {
	cache  CacheClient
	prefix string
	ttl    time.Duration
	logger *log.Helper
}

// NewRedisAnalysisRepo creates a Redis-backed analysis registry.
func NewRedisAnalysisRepo(cache CacheClient, prefix string, ttl time.Duration, logger log.Logger) *RedisAnalysisRepo {
	return &RedisAnalysisRepo{
		cache:  cache,
		prefix: prefix,
		ttl:    ttl,
		logger: log.NewHelper(logger),
	}
}

func (r *RedisAnalysisRepo) key(id string) string {
	return BuildCacheKey(r.prefix, id)
}

func (r *RedisAnalysisRepo) index() string {
	return BuildCacheKey(r.prefix, cacheKeyIndex)
}

func (r *RedisAnalysisRepo) store(ctx context.Context, a *model.AnalysisResult) error {
	var ttl time.Duration
	if a.Status.Terminal() {
		ttl = r.ttl
	}
	return r.cache.Set(ctx, r.key(a.AnalysisID), a, ttl)
}

// Create stores a and adds its id to the index.
func (r *RedisAnalysisRepo) Create(ctx context.Context, a *model.AnalysisResult) error {
	if err := r.store(ctx, a); err != nil {
		return err
	}
	return r.cache.AddToIndex(ctx, r.index(), a.AnalysisID)
}

// Update overwrites the stored document.
func (r *RedisAnalysisRepo) Update(ctx context.Context, a *model.AnalysisResult) error {
	exists, err := r.cache.Exists(ctx, r.key(a.AnalysisID))
	if err != nil {
		return err
	}
	if !exists {
		return ErrAnalysisNotFound
	}
	return r.store(ctx, a)
}

// Get loads one analysis.
func (r *RedisAnalysisRepo) Get(ctx context.Context, id string) (*model.AnalysisResult, error) {
	var a model.AnalysisResult
	if err := r.cache.Get(ctx, r.key(id), &a); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return &a, nil
}

// all loads every indexed analysis and prunes ids whose documents expired.
func (r *RedisAnalysisRepo) all(ctx context.Context) ([]*model.AnalysisResult, error) {
	ids, err := r.cache.IndexMembers(ctx, r.index())
	if err != nil {
		return nil, err
	}

	out := make([]*model.AnalysisResult, 0, len(ids))
	var stale []string
	for _, id := range ids {
		a, err := r.Get(ctx, id)
		if errors.Is(err, ErrAnalysisNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load analysis %s: %w", id, err)
		}
		out = append(out, a)
	}

	if len(stale) > 0 {
		if err := r.cache.RemoveFromIndex(ctx, r.index(), stale...); err != nil {
			r.logger.Warnf("failed to prune %d expired analysis ids: %v", len(stale), err)
		}
	}
	return out, nil
}

// List returns analyses matching status, all when status is empty.
func (r *RedisAnalysisRepo) List(ctx context.Context, status model.AnalysisStatus) ([]*model.AnalysisResult, error) {
	items, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return items, nil
	}
	out := items[:0]
	for _, a := range items {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteCompletedBefore removes terminal analyses completed before cutoff.
func (r *RedisAnalysisRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	items, err := r.all(ctx)
	if err != nil {
		return 0, err
	}

	var ids, keys []string
	for _, a := range items {
		if completedBefore(a, cutoff) {
			ids = append(ids, a.AnalysisID)
			keys = append(keys, r.key(a.AnalysisID))
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.cache.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	if err := r.cache.RemoveFromIndex(ctx, r.index(), ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}
