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

type schedulerStore struct {
	pool *pgxpool.Pool
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

const taskColumns = `id, name, schedule, last_run, next_run, last_error, last_success, enabled`

func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled tasks: %w", err)
	}
	return collect(rows, scanTask)
}

func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_error = excluded.last_error,
			last_success = excluded.last_success,
			enabled = excluded.enabled`,
		task.ID, task.Name, task.Schedule, nullTime(task.LastRun), nullTime(task.NextRun),
		nullString(task.LastError), nullTime(task.LastSuccess), task.Enabled)
	if err != nil {
		return fmt.Errorf("saving scheduled task: %w", err)
	}
	return nil
}

func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		result.TaskID, result.StartedAt.UTC(), result.EndedAt.UTC(), result.Success,
		nullString(result.Error), result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	lim := any(nil)
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_results WHERE task_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`, taskID, lim)
	if err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}
	return collectValues(rows, func(row pgx.Row) (domain.TaskResult, error) {
		var r domain.TaskResult
		var errMsg *string
		err := row.Scan(&r.TaskID, &r.StartedAt, &r.EndedAt, &r.Success, &errMsg, &r.ItemsProcessed)
		r.Error = deref(errMsg)
		return r, err
	})
}

func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM task_results WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rn
				FROM task_results
			) ranked WHERE rn > $1
		)`, keep)
	if err != nil {
		return fmt.Errorf("pruning task history: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var lastRun, nextRun, lastSuccess *time.Time
	var lastError *string
	if err := row.Scan(&t.ID, &t.Name, &t.Schedule, &lastRun, &nextRun, &lastError, &lastSuccess, &t.Enabled); err != nil {
		return nil, err
	}
	if lastRun != nil {
		t.LastRun = *lastRun
	}
	if nextRun != nil {
		t.NextRun = *nextRun
	}
	if lastSuccess != nil {
		t.LastSuccess = *lastSuccess
	}
	t.LastError = deref(lastError)
	return &t, nil
}
