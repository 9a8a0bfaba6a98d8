package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/data"
	"RelayLane/internal/model"
	pkglog "RelayLane/pkg/log"
	"RelayLane/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TaskFunc computes one named result of an analysis.
type TaskFunc func(ctx context.Context, subject string) (any, error)

// Task is one named unit of work inside an analysis.
type Task struct {
	Name string
	Run  TaskFunc
}

// OrchestratorConfig holds analysis execution limits.
type OrchestratorConfig struct {
	MaxConcurrentAnalyses int
	// MaxParallelTasks bounds running tasks per analysis. Zero means unbounded.
	MaxParallelTasks int
	TaskTimeout      time.Duration
	Retention        time.Duration
}

// Validate rejects limits that would refuse every submission or time out
// every task immediately.
func (c OrchestratorConfig) Validate() error {
	if c.MaxConcurrentAnalyses < 1 {
		return fmt.Errorf("max_concurrent_analyses must be >= 1, got %d", c.MaxConcurrentAnalyses)
	}
	if c.MaxParallelTasks < 0 {
		return fmt.Errorf("max_parallel_tasks must not be negative, got %d", c.MaxParallelTasks)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %s", c.TaskTimeout)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", c.Retention)
	}
	return nil
}

// NewOrchestratorConfig converts the orchestrator configuration section.
func NewOrchestratorConfig(c *conf.Resilience) OrchestratorConfig {
	cfg := OrchestratorConfig{
		MaxConcurrentAnalyses: 10,
		TaskTimeout:           120 * time.Second,
		Retention:             24 * time.Hour,
	}
	if c == nil || c.Orchestrator == nil {
		return cfg
	}
	o := c.Orchestrator
	if o.MaxConcurrentAnalyses > 0 {
		cfg.MaxConcurrentAnalyses = int(o.MaxConcurrentAnalyses)
	}
	if o.MaxParallelTasks > 0 {
		cfg.MaxParallelTasks = int(o.MaxParallelTasks)
	}
	if d := o.TaskTimeout.AsDuration(); d > 0 {
		cfg.TaskTimeout = d
	}
	if d := o.Retention.AsDuration(); d > 0 {
		cfg.Retention = d
	}
	return cfg
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorClock replaces time.Now for timestamps and sweeps.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// analysisRun is the live state of a processing analysis.
type analysisRun struct {
	mu     sync.Mutex
	result *model.AnalysisResult
	cancel context.CancelFunc
}

// Orchestrator runs batches of named tasks concurrently and tracks their
// results by analysis id.
type Orchestrator struct {
	cfg     OrchestratorConfig
	repo    AnalysisRepo
	metrics *metrics.Collector
	log     *pkglog.LogHelper
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*analysisRun
	wg   sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator from configuration.
func NewOrchestrator(c *conf.Resilience, repo AnalysisRepo, collector *metrics.Collector, logger log.Logger) (*Orchestrator, error) {
	return NewOrchestratorWithConfig(NewOrchestratorConfig(c), repo, collector, logger)
}

// NewOrchestratorWithConfig creates an Orchestrator. collector may be nil.
func NewOrchestratorWithConfig(cfg OrchestratorConfig, repo AnalysisRepo, collector *metrics.Collector, logger log.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	o := &Orchestrator{
		cfg:     cfg,
		repo:    repo,
		metrics: collector,
		log:     pkglog.NewLogHelper(logger),
		now:     time.Now,
		runs:    make(map[string]*analysisRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func validateTasks(tasks []Task) error {
	if len(tasks) == 0 {
		return errors.New("analysis has no tasks")
	}
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Run == nil {
			return fmt.Errorf("task %q has no function", t.Name)
		}
	}
	return nil
}

// Submit registers a new analysis and starts its tasks in the background.
//
// It returns ErrAnalysisCapacity once MaxConcurrentAnalyses analyses are
// processing. A malformed batch does not run: it is stored with status
// failed and its id is still returned.
func (o *Orchestrator) Submit(ctx context.Context, subject, analysisType string, tasks []Task) (string, error) {
	now := o.now()
	result := &model.AnalysisResult{
		AnalysisID:   uuid.NewString(),
		Subject:      subject,
		AnalysisType: analysisType,
		Status:       model.AnalysisQueued,
		Results:      make(map[string]any, len(tasks)),
		CreatedAt:    now,
	}
	id := result.AnalysisID

	if err := validateTasks(tasks); err != nil {
		msg := err.Error()
		result.Status = model.AnalysisFailed
		result.CompletedAt = &now
		result.Error = &msg
		if err := o.repo.Create(ctx, result); err != nil {
			return "", fmt.Errorf("store analysis: %w", err)
		}
		o.metrics.AnalysisRejected(string(model.AnalysisFailed))
		o.log.Analysis("analysis rejected as malformed",
			"analysis_id", id,
			"analysis_type", analysisType,
			"error", msg)
		return id, nil
	}

	// Capacity check and registration happen under one lock.
	o.mu.Lock()
	if len(o.runs) >= o.cfg.MaxConcurrentAnalyses {
		o.mu.Unlock()
		o.metrics.AnalysisRejected("rejected")
		return "", ErrAnalysisCapacity
	}
	storeCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(storeCtx)
	result.Status = model.AnalysisProcessing
	run := &analysisRun{result: result, cancel: cancel}
	o.runs[id] = run
	o.mu.Unlock()

	if err := o.repo.Create(ctx, result.Clone()); err != nil {
		o.mu.Lock()
		delete(o.runs, id)
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("store analysis: %w", err)
	}

	o.metrics.AnalysisStarted()
	o.log.Analysis("analysis started",
		"request_id", pkglog.GetRequestID(ctx),
		"analysis_id", id,
		"analysis_type", analysisType,
		"tasks", len(tasks))

	o.wg.Add(1)
	go o.execute(storeCtx, runCtx, run, tasks)
	return id, nil
}

func (o *Orchestrator) execute(storeCtx, runCtx context.Context, run *analysisRun, tasks []Task) {
	defer o.wg.Done()
	defer run.cancel()

	start := time.Now()
	id := run.result.AnalysisID
	subject := run.result.Subject

	// Task failures are recorded, not propagated, so siblings keep running.
	var g errgroup.Group
	if o.cfg.MaxParallelTasks > 0 {
		g.SetLimit(o.cfg.MaxParallelTasks)
	}
	for _, t := range tasks {
		g.Go(func() error {
			o.record(storeCtx, run, t.Name, o.runTask(runCtx, t, subject))
			return nil
		})
	}
	_ = g.Wait()

	run.mu.Lock()
	finished := run.result.Status == model.AnalysisProcessing
	if finished {
		now := o.now()
		run.result.Status = model.AnalysisCompleted
		run.result.CompletedAt = &now
		o.persist(storeCtx, run.result)
	}
	run.mu.Unlock()

	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()

	if finished {
		o.metrics.AnalysisFinished(string(model.AnalysisCompleted))
		o.log.Analysis("analysis completed",
			"analysis_id", id,
			"tasks", len(tasks),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// record stores one task output unless the analysis already ended.
func (o *Orchestrator) record(ctx context.Context, run *analysisRun, name string, out any) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.result.Status != model.AnalysisProcessing {
		return
	}
	run.result.Results[name] = out
	o.persist(ctx, run.result)
}

// persist must be called with run.mu held.
func (o *Orchestrator) persist(ctx context.Context, a *model.AnalysisResult) {
	if err := o.repo.Update(ctx, a.Clone()); err != nil {
		o.log.Warnw("msg", "failed to persist analysis",
			"analysis_id", a.AnalysisID,
			"status", string(a.Status),
			"error", err.Error())
	}
}

type taskOutcome struct {
	value any
	err   error
}

// timeoutMessage formats d as "timed out after Ns".
func timeoutMessage(d time.Duration) string {
	return "timed out after " + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// runTask waits for t under TaskTimeout. A task that outlives its timeout is
// abandoned; its context is cancelled but the orchestrator does not wait for it.
func (o *Orchestrator) runTask(ctx context.Context, t Task, subject string) any {
	if ctx.Err() != nil {
		return model.TaskError{Error: "cancelled"}
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan taskOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := t.Run(taskCtx, subject)
		done <- taskOutcome{value: v, err: err}
	}()

	var res taskOutcome
	select {
	case res = <-done:
	case <-taskCtx.Done():
		res.err = taskCtx.Err()
	}

	outcome := "success"
	var out any = res.value
	switch {
	case res.err == nil:
	case ctx.Err() != nil:
		outcome = "cancelled"
		out = model.TaskError{Error: "cancelled"}
	case errors.Is(res.err, context.DeadlineExceeded) && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		out = model.TaskError{Error: timeoutMessage(o.cfg.TaskTimeout)}
	default:
		outcome = "error"
		out = model.TaskError{Error: res.err.Error()}
	}

	o.metrics.ObserveTask(outcome, time.Since(start))
	o.log.Task("task settled",
		"task", t.Name,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds())
	return out
}

// Get returns a snapshot of the analysis.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.AnalysisResult, error) {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		run.mu.Lock()
		defer run.mu.Unlock()
		return run.result.Clone(), nil
	}

	a, err := o.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrAnalysisNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return a, nil
}

// List returns analyses with the given status, or all when status is empty,
// newest first.
func (o *Orchestrator) List(ctx context.Context, status model.AnalysisStatus) ([]*model.AnalysisResult, error) {
	list, err := o.repo.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Cancel marks a processing analysis cancelled and cancels its task context.
// Tasks that ignore their context are abandoned; their late results are discarded.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*model.AnalysisResult, error) {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()

	if !ok {
		a, err := o.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Status.Terminal() {
			return nil, ErrAnalysisNotCancellable
		}
		// Processing entry without a live run in this process.
		now := o.now()
		a.Status = model.AnalysisCancelled
		a.CompletedAt = &now
		if err := o.repo.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("cancel analysis %s: %w", id, err)
		}
		return a.Clone(), nil
	}

	run.mu.Lock()
	if run.result.Status.Terminal() {
		run.mu.Unlock()
		return nil, ErrAnalysisNotCancellable
	}
	now := o.now()
	run.result.Status = model.AnalysisCancelled
	run.result.CompletedAt = &now
	o.persist(context.WithoutCancel(ctx), run.result)
	snapshot := run.result.Clone()
	run.mu.Unlock()

	run.cancel()
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()

	o.metrics.AnalysisFinished(string(model.AnalysisCancelled))
	o.log.Analysis("analysis cancelled",
		"request_id", pkglog.GetRequestID(ctx),
		"analysis_id", id,
		"completed_tasks", len(snapshot.Results))
	return snapshot, nil
}

// Processing returns the number of analyses currently running in this process.
func (o *Orchestrator) Processing() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Sweep removes terminal analyses completed longer than Retention ago.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.cfg.Retention)
	n, err := o.repo.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep analyses: %w", err)
	}
	o.metrics.AddSwept(n)
	if n > 0 {
		o.log.Sweep("expired analyses removed",
			"removed", n,
			"cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Wait blocks until every background analysis has settled or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
