package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
)

// Ensure RunTracker implements the interface.
var _ driving.RunTracker = (*RunTracker)(nil)

// RunTracker owns PipelineRun rows. A run is created running and updated
// when finished; a row left running is the signal of a crashed process.
type RunTracker struct {
	runs driven.RunStore
	now  func() time.Time
}

// NewRunTracker creates a tracker over the given run store.
func NewRunTracker(runs driven.RunStore) *RunTracker {
	return &RunTracker{runs: runs, now: time.Now}
}

// Start inserts a running row for the dataset.
func (t *RunTracker) Start(ctx context.Context, dataset string) (*domain.PipelineRun, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", domain.ErrInvalidInput)
	}
	run := &domain.PipelineRun{
		ID:        uuid.New().String(),
		Dataset:   dataset,
		StartedAt: t.now().UTC(),
		Status:    domain.RunRunning,
	}
	if err := t.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Checkpoint persists the counters of a run that is still running.
func (t *RunTracker) Checkpoint(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || run.Status != domain.RunRunning {
		return fmt.Errorf("%w: checkpoint on a finished run", domain.ErrInvalidInput)
	}
	if err := t.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stamps the end time, terminal status and error text.
func (t *RunTracker) Finish(ctx context.Context, run *domain.PipelineRun, status domain.RunStatus, runErr error) error {
	if run == nil || !status.IsTerminal() {
		return fmt.Errorf("%w: finish needs a terminal status", domain.ErrInvalidInput)
	}
	finished := t.now().UTC()
	run.FinishedAt = &finished
	run.Status = status
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := t.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (t *RunTracker) Get(ctx context.Context, id string) (*domain.PipelineRun, error) {
	return t.runs.Get(ctx, id)
}

// List returns recent runs, newest first.
func (t *RunTracker) List(ctx context.Context, dataset string, limit int) ([]domain.PipelineRun, error) {
	return t.runs.List(ctx, dataset, limit)
}

// Stale returns runs still marked running after olderThan. Their status is
// left untouched so the signal stays visible.
func (t *RunTracker) Stale(ctx context.Context, olderThan time.Duration) ([]domain.PipelineRun, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: stale threshold must be positive", domain.ErrInvalidInput)
	}
	return t.runs.ListRunning(ctx, t.now().Add(-olderThan))
}
