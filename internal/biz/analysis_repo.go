package biz

import (
	"context"
	"time"

	"RelayLane/internal/model"
)

// AnalysisRepo stores analysis results.
// Implementations return data.ErrAnalysisNotFound for unknown ids.
type AnalysisRepo interface {
	// Create stores a new analysis.
	Create(ctx context.Context, a *model.AnalysisResult) error
	// Update replaces a stored analysis.
	Update(ctx context.Context, a *model.AnalysisResult) error
	// Get returns a copy of the analysis.
	Get(ctx context.Context, id string) (*model.AnalysisResult, error)
	// List returns every analysis with the given status, or all when status is empty.
	List(ctx context.Context, status model.AnalysisStatus) ([]*model.AnalysisResult, error)
	// DeleteCompletedBefore removes terminal analyses completed before cutoff
	// and returns how many were removed. Processing analyses are never removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
