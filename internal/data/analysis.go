package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrAnalysisNotFound is returned for ids that are not stored.
var ErrAnalysisNotFound = errors.New("analysis not found")

// AnalysisStore implements biz.AnalysisRepo.
type AnalysisStore interface {
	Create(ctx context.Context, a *model.AnalysisResult) error
	Update(ctx context.Context, a *model.AnalysisResult) error
	Get(ctx context.Context, id string) (*model.AnalysisResult, error)
	List(ctx context.Context, status model.AnalysisStatus) ([]*model.AnalysisResult, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// NewAnalysisStore selects the registry driver from configuration.
func NewAnalysisStore(c *conf.Data, cache CacheClient, logger log.Logger) (AnalysisStore, error) {
	helper := log.NewHelper(logger)

	driver := conf.RegistryDriverMemory
	if c != nil && c.Registry != nil && c.Registry.Driver != "" {
		driver = c.Registry.Driver
	}

	switch driver {
	case conf.RegistryDriverMemory:
		helper.Info("analysis registry: memory")
		return NewMemoryAnalysisRepo(), nil
	case conf.RegistryDriverRedis:
		prefix, ttl := CacheKeyAnalysis, TTLAnalysis
		if c.Registry.KeyPrefix != "" {
			prefix = c.Registry.KeyPrefix
		}
		if d := c.Registry.Ttl.AsDuration(); d > 0 {
			ttl = d
		}
		helper.Infof("analysis registry: redis (prefix=%s ttl=%s)", prefix, ttl)
		return NewRedisAnalysisRepo(cache, prefix, ttl, logger), nil
	default:
		return nil, fmt.Errorf("unknown registry driver %q", driver)
	}
}

// completedBefore reports whether a is terminal and completed before cutoff.
func completedBefore(a *model.AnalysisResult, cutoff time.Time) bool {
	return a.Status.Terminal() && a.CompletedAt != nil && a.CompletedAt.Before(cutoff)
}

// MemoryAnalysisRepo keeps analyses in process memory.
type MemoryAnalysisRepo struct {
	mu    sync.RWMutex
	items map[string]*model.AnalysisResult
}

// NewMemoryAnalysisRepo creates an empty in-memory registry.
func NewMemoryAnalysisRepo() *MemoryAnalysisRepo {
	return &MemoryAnalysisRepo{items: make(map[string]*model.AnalysisResult)}
}

// Create stores a copy of a. An existing id is an error.
func (r *MemoryAnalysisRepo) Create(_ context.Context, a *model.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.AnalysisID]; ok {
		return fmt.Errorf("analysis %s already exists", a.AnalysisID)
	}
	r.items[a.AnalysisID] = a.Clone()
	return nil
}

// Update replaces the stored copy of a.
func (r *MemoryAnalysisRepo) Update(_ context.Context, a *model.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.AnalysisID]; !ok {
		return ErrAnalysisNotFound
	}
	r.items[a.AnalysisID] = a.Clone()
	return nil
}

// Get returns a copy of the stored analysis.
func (r *MemoryAnalysisRepo) Get(_ context.Context, id string) (*model.AnalysisResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrAnalysisNotFound
	}
	return a.Clone(), nil
}

// List returns copies of analyses matching status, all when status is empty.
func (r *MemoryAnalysisRepo) List(_ context.Context, status model.AnalysisStatus) ([]*model.AnalysisResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.AnalysisResult, 0, len(r.items))
	for _, a := range r.items {
		if status == "" || a.Status == status {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// DeleteCompletedBefore removes terminal analyses completed before cutoff.
func (r *MemoryAnalysisRepo) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, a := range r.items {
		if completedBefore(a, cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}
