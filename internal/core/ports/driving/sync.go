package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// Stage restricts a sync invocation to part of the pipeline.
type Stage string

const (
	// StageFetch runs the fetcher and change detector only.
	StageFetch Stage = "fetch"

	// StageProcess runs downstream per-item processing only.
	StageProcess Stage = "process"

	// StageAll runs both stages in order.
	StageAll Stage = "all"
)

// IsValid returns true if the stage is recognised.
func (s Stage) IsValid() bool {
	return s == StageFetch || s == StageProcess || s == StageAll
}

// SyncOptions tunes one sync invocation.
type SyncOptions struct {
	// BatchSize overrides the number of pages per checkpoint chunk.
	BatchSize int

	// Limit caps the number of records classified. Zero means no cap.
	Limit int
}

// SyncReport summarises a finished run.
type SyncReport struct {
	RunID      string
	Dataset    string
	Status     domain.RunStatus
	Counters   domain.Counters
	Chunks     int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncService synchronises the configured dataset from upstream.
type SyncService interface {
	// Run fetches, classifies and commits the dataset chunk by chunk under
	// the dataset run lock. The report is returned even when the run failed.
	Run(ctx context.Context, opts SyncOptions) (*SyncReport, error)

	// Preview classifies the upstream dataset without any side effects.
	Preview(ctx context.Context, opts SyncOptions) (*domain.PreviewReport, error)

	// Status returns the progress of the run in flight, if any.
	Status(ctx context.Context) (*SyncStatus, error)
}

// SyncStatus represents the current state of a sync operation.
type SyncStatus struct {
	// Dataset identifies the dataset.
	Dataset string

	// Running indicates if sync is currently in progress.
	Running bool

	// RunID is the run in flight.
	RunID string

	// Counters are the totals checkpointed so far.
	Counters domain.Counters
}
