package service

import (
	"context"
	"sort"
	"strings"

	"RelayLane/internal/biz"
	"RelayLane/internal/model"
	"RelayLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

// SubmitAnalysisRequest starts one analysis. Each prompt becomes a task named
// by its key; "{subject}" in a template is replaced by Subject.
type SubmitAnalysisRequest struct {
	Subject      string            `json:"subject"`
	AnalysisType string            `json:"analysis_type"`
	Prompts      map[string]string `json:"prompts"`
	Providers    []string          `json:"providers,omitempty"`
	Fallback     *bool             `json:"fallback,omitempty"`
}

// SubmitAnalysisReply returns the new analysis id.
type SubmitAnalysisReply struct {
	AnalysisID string               `json:"analysis_id"`
	Status     model.AnalysisStatus `json:"status"`
}

// ListAnalysesReply wraps a listing.
type ListAnalysesReply struct {
	Analyses []*model.AnalysisResult `json:"analyses"`
}

// AnalysisService exposes the task orchestrator.
type AnalysisService struct {
	orchestrator *biz.Orchestrator
	dispatcher   *biz.Dispatcher
	logger       *log.Helper
}

// NewAnalysisService creates an AnalysisService.
func NewAnalysisService(o *biz.Orchestrator, d *biz.Dispatcher, logger log.Logger) *AnalysisService {
	return &AnalysisService{
		orchestrator: o,
		dispatcher:   d,
		logger:       log.NewHelper(logger),
	}
}

// Submit builds one prompt task per template and submits the batch. An empty
// prompt set is accepted and recorded as a failed analysis.
func (s *AnalysisService) Submit(ctx context.Context, req *SubmitAnalysisRequest) (*SubmitAnalysisReply, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return nil, invalidRequest("subject is required")
	}
	if req.AnalysisType == "" {
		req.AnalysisType = "default"
	}

	opts := dispatchOptions(metadata.FromContext(ctx), req.Providers, req.Fallback)
	names := make([]string, 0, len(req.Prompts))
	for name := range req.Prompts {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make([]biz.Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, biz.NewPromptTask(s.dispatcher, name, req.Prompts[name], opts...))
	}

	id, err := s.orchestrator.Submit(ctx, req.Subject, req.AnalysisType, tasks)
	if err != nil {
		return nil, err
	}

	a, err := s.orchestrator.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Debugw("msg", "analysis submitted", "analysis_id", id, "status", string(a.Status))
	// A fast batch may already be completed here
	return &SubmitAnalysisReply{AnalysisID: id, Status: a.Status}, nil
}

// Get returns one analysis.
func (s *AnalysisService) Get(ctx context.Context, id string) (*model.AnalysisResult, error) {
	return s.orchestrator.Get(ctx, id)
}

// List returns analyses, optionally filtered by status.
func (s *AnalysisService) List(ctx context.Context, status string) (*ListAnalysesReply, error) {
	st := model.AnalysisStatus(status)
	switch st {
	case "", model.AnalysisQueued, model.AnalysisProcessing, model.AnalysisCompleted, model.AnalysisFailed, model.AnalysisCancelled:
	default:
		return nil, invalidRequest("unknown status: " + status)
	}

	list, err := s.orchestrator.List(ctx, st)
	if err != nil {
		return nil, err
	}
	return &ListAnalysesReply{Analyses: list}, nil
}

// Cancel cancels a processing analysis.
func (s *AnalysisService) Cancel(ctx context.Context, id string) (*model.AnalysisResult, error) {
	return s.orchestrator.Cancel(ctx, id)
}
