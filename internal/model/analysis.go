package model

import "time"

// AnalysisStatus is the lifecycle state of an analysis.
type AnalysisStatus string

const (
	AnalysisQueued     AnalysisStatus = "queued"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisCancelled  AnalysisStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s AnalysisStatus) Terminal() bool {
	switch s {
	case AnalysisCompleted, AnalysisFailed, AnalysisCancelled:
		return true
	}
	return false
}

// AnalysisResult tracks one orchestrated batch of tasks.
// CompletedAt is set iff Status is terminal.
type AnalysisResult struct {
	AnalysisID   string         `json:"analysis_id"`
	Subject      string         `json:"subject"`
	AnalysisType string         `json:"analysis_type"`
	Status       AnalysisStatus `json:"status"`
	Results      map[string]any `json:"results"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	Error        *string        `json:"error"`
}

// Clone returns a copy that shares no mutable state with a.
// Task outputs are copied by reference.
func (a *AnalysisResult) Clone() *AnalysisResult {
	if a == nil {
		return nil
	}
	c := *a
	c.Results = make(map[string]any, len(a.Results))
	for k, v := range a.Results {
		c.Results[k] = v
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	if a.Error != nil {
		e := *a.Error
		c.Error = &e
	}
	return &c
}

// TaskError is stored in place of a task's output when the task failed.
type TaskError struct {
	Error string `json:"error"`
}
