package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// runStore implements driven.RunStore.
type runStore struct {
	store *Store
}

var _ driven.RunStore = (*runStore)(nil)

const runColumns = `id, dataset, started_at, finished_at, status, new_count, updated_count,
	unchanged_count, failed_count, pages, chunks_failed, error`

// Create inserts a new run.
func (s *runStore) Create(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || run.ID == "" || !run.Status.IsValid() {
		return domain.ErrInvalidInput
	}
	c := run.Counters
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Dataset, formatTime(run.StartedAt), formatTimePtr(run.FinishedAt), string(run.Status),
		c.New, c.Updated, c.Unchanged, c.Failed, c.Pages, c.ChunksFailed, nullString(run.Error))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// Update overwrites the counters, status, finish time and error of a run.
func (s *runStore) Update(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || !run.Status.IsValid() {
		return domain.ErrInvalidInput
	}
	c := run.Counters
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			finished_at = ?, status = ?, new_count = ?, updated_count = ?, unchanged_count = ?,
			failed_count = ?, pages = ?, chunks_failed = ?, error = ?
		WHERE id = ?
	`, formatTimePtr(run.FinishedAt), string(run.Status), c.New, c.Updated, c.Unchanged,
		c.Failed, c.Pages, c.ChunksFailed, nullString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a run by ID.
func (s *runStore) Get(ctx context.Context, id string) (*domain.PipelineRun, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (s *runStore) List(ctx context.Context, dataset string, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs
		WHERE (? = '' OR dataset = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, dataset, dataset, limit)
}

// ListRunning returns running runs that started before the cutoff.
func (s *runStore) ListRunning(ctx context.Context, startedBefore time.Time) ([]domain.PipelineRun, error) {
	return s.query(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs
		WHERE status = ? AND started_at < ?
		ORDER BY started_at DESC, id DESC
	`, string(domain.RunRunning), formatTime(startedBefore))
}

func (s *runStore) query(ctx context.Context, query string, args ...any) ([]domain.PipelineRun, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(sc scanner) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var startedAt, status string
	var finishedAt, errMsg sql.NullString
	c := &run.Counters

	if err := sc.Scan(&run.ID, &run.Dataset, &startedAt, &finishedAt, &status,
		&c.New, &c.Updated, &c.Unchanged, &c.Failed, &c.Pages, &c.ChunksFailed, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTimePtr(finishedAt)
	run.Status = domain.RunStatus(status)
	run.Error = errMsg.String
	return &run, nil
}
