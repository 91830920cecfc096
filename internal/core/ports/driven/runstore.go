package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// RunStore persists pipeline run audit rows.
type RunStore interface {
	// Create inserts a new run.
	Create(ctx context.Context, run *domain.PipelineRun) error

	// Update overwrites the counters, status, finish time and error of a run.
	Update(ctx context.Context, run *domain.PipelineRun) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*domain.PipelineRun, error)

	// List returns the most recent runs of a dataset, newest first.
	// An empty dataset lists all datasets.
	List(ctx context.Context, dataset string, limit int) ([]domain.PipelineRun, error)

	// ListRunning returns runs still marked running that started before the cutoff.
	ListRunning(ctx context.Context, startedBefore time.Time) ([]domain.PipelineRun, error)
}

// RunLock is a held single-writer lock.
type RunLock interface {
	// Release gives the lock up. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// RunLocker provides mutual exclusion between sync runs on one dataset.
type RunLocker interface {
	// Acquire takes the dataset lock without blocking.
	// Returns domain.ErrRunInProgress if another owner holds it.
	Acquire(ctx context.Context, dataset, owner string) (RunLock, error)
}
