package domain

import "time"

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	// RunRunning is set at start and stays if the process dies mid-run.
	RunRunning RunStatus = "running"

	// RunCompleted indicates the run reached the end of data.
	RunCompleted RunStatus = "completed"

	// RunFailed indicates the run stopped early or was cancelled.
	RunFailed RunStatus = "failed"
)

// IsValid returns true if the status is recognised.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunCompleted, RunFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once a run has been finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// PipelineRun is the audit row for one sync invocation.
type PipelineRun struct {
	// ID is the unique identifier for the run.
	ID string

	// Dataset names the dataset synchronised.
	Dataset string

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is nil until the run is finished.
	FinishedAt *time.Time

	// Status is the run state.
	Status RunStatus

	// Counters holds the classification and failure totals.
	Counters Counters

	// Error holds the accumulated chunk and fetch error text.
	Error string
}

// Duration returns how long the run took, or has been running as of now.
func (r PipelineRun) Duration(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// IsStale reports whether a run is still marked running after maxAge.
func (r PipelineRun) IsStale(now time.Time, maxAge time.Duration) bool {
	return r.Status == RunRunning && now.Sub(r.StartedAt) > maxAge
}
