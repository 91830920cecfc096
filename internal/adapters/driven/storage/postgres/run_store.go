package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

type runStore struct {
	pool *pgxpool.Pool
}

var _ driven.RunStore = (*runStore)(nil)

const runColumns = `id, dataset, started_at, finished_at, status, new_count, updated_count,
	unchanged_count, failed_count, pages, chunks_failed, error`

func (s *runStore) Create(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || run.ID == "" || !run.Status.IsValid() {
		return domain.ErrInvalidInput
	}
	c := run.Counters
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.Dataset, run.StartedAt.UTC(), run.FinishedAt, string(run.Status),
		c.New, c.Updated, c.Unchanged, c.Failed, c.Pages, c.ChunksFailed, nullString(run.Error))
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (s *runStore) Update(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || !run.Status.IsValid() {
		return domain.ErrInvalidInput
	}
	c := run.Counters
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			finished_at = $1, status = $2, new_count = $3, updated_count = $4, unchanged_count = $5,
			failed_count = $6, pages = $7, chunks_failed = $8, error = $9
		WHERE id = $10`,
		run.FinishedAt, string(run.Status), c.New, c.Updated, c.Unchanged,
		c.Failed, c.Pages, c.ChunksFailed, nullString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *runStore) Get(ctx context.Context, id string) (*domain.PipelineRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

func (s *runStore) List(ctx context.Context, dataset string, limit int) ([]domain.PipelineRun, error) {
	lim := any(nil)
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs
		WHERE ($1 = '' OR dataset = $1)
		ORDER BY started_at DESC, id DESC
		LIMIT $2`, dataset, lim)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return collect(rows, scanRun)
}

func (s *runStore) ListRunning(ctx context.Context, startedBefore time.Time) ([]domain.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at DESC, id DESC`, string(domain.RunRunning), startedBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying running runs: %w", err)
	}
	return collect(rows, scanRun)
}

func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var status string
	var errMsg *string
	c := &run.Counters
	if err := row.Scan(&run.ID, &run.Dataset, &run.StartedAt, &run.FinishedAt, &status,
		&c.New, &c.Updated, &c.Unchanged, &c.Failed, &c.Pages, &c.ChunksFailed, &errMsg); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Error = deref(errMsg)
	return &run, nil
}
