package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// RunTracker owns the lifecycle of PipelineRun audit rows.
type RunTracker interface {
	// Start inserts a running row for the dataset.
	Start(ctx context.Context, dataset string) (*domain.PipelineRun, error)

	// Checkpoint persists the run's counters while it stays running.
	Checkpoint(ctx context.Context, run *domain.PipelineRun) error

	// Finish stamps the finish time, terminal status and error text.
	Finish(ctx context.Context, run *domain.PipelineRun, status domain.RunStatus, runErr error) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*domain.PipelineRun, error)

	// List returns recent runs, newest first.
	List(ctx context.Context, dataset string, limit int) ([]domain.PipelineRun, error)

	// Stale returns runs still marked running after olderThan.
	// Detection only: their status is never rewritten.
	Stale(ctx context.Context, olderThan time.Duration) ([]domain.PipelineRun, error)
}
