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

type attemptStore struct {
	pool *pgxpool.Pool
}

var _ driven.AttemptStore = (*attemptStore)(nil)

const attemptColumns = `item_id, dataset, entity_key, task, document_url, status, error_type,
	error_message, attempts, reset_count, last_attempt_at, output::text, created_at`

func (s *attemptStore) Record(ctx context.Context, rec domain.AttemptRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	attempted := rec.Status != domain.AttemptPending
	var output *string
	if rec.Status == domain.AttemptSuccess {
		encoded, err := marshalJSON(rec.Output)
		if err != nil {
			return err
		}
		output = &encoded
	}
	var lastAttempt *time.Time
	at := rec.At.UTC()
	if attempted {
		lastAttempt = &at
	}
	count := 0
	if attempted {
		count = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_attempts (item_id, dataset, entity_key, task, document_url, status,
			error_type, error_message, attempts, reset_count, last_attempt_at, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11::jsonb, $12)
		ON CONFLICT (item_id) DO UPDATE SET
			dataset = excluded.dataset,
			entity_key = excluded.entity_key,
			task = excluded.task,
			document_url = excluded.document_url,
			status = excluded.status,
			attempts = processing_attempts.attempts + excluded.attempts,
			error_type = CASE WHEN excluded.status = 'pending'
				THEN processing_attempts.error_type ELSE excluded.error_type END,
			error_message = CASE WHEN excluded.status = 'pending'
				THEN processing_attempts.error_message ELSE excluded.error_message END,
			last_attempt_at = COALESCE(excluded.last_attempt_at, processing_attempts.last_attempt_at),
			output = CASE WHEN excluded.status = 'success'
				THEN excluded.output ELSE processing_attempts.output END`,
		rec.ItemID, rec.Dataset, nullString(rec.EntityKey), nullString(rec.Task), nullString(rec.DocumentURL),
		string(rec.Status), string(rec.ErrorType), nullString(rec.ErrorMessage), count,
		lastAttempt, output, at)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

func (s *attemptStore) Get(ctx context.Context, itemID string) (*domain.ProcessingAttempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM processing_attempts WHERE item_id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (s *attemptStore) GetMany(ctx context.Context, itemIDs []string) (map[string]*domain.ProcessingAttempt, error) {
	out := make(map[string]*domain.ProcessingAttempt, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM processing_attempts WHERE item_id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	list, err := collect(rows, scanAttempt)
	if err != nil {
		return nil, err
	}
	for i := range list {
		out[list[i].ItemID] = &list[i]
	}
	return out, nil
}

func (s *attemptStore) List(ctx context.Context, filter domain.AttemptFilter) ([]domain.ProcessingAttempt, error) {
	lim := any(nil)
	if filter.Limit > 0 {
		lim = filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM processing_attempts
		WHERE ($1 = '' OR dataset = $1)
		  AND ($2 = '' OR task = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR error_type = $4)
		ORDER BY created_at, item_id
		LIMIT $5`,
		filter.Dataset, filter.Task, string(filter.Status), string(filter.ErrorType), lim)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	return collect(rows, scanAttempt)
}

func (s *attemptStore) Reset(ctx context.Context, itemIDs []string) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_attempts
		SET status = 'pending', reset_count = reset_count + 1
		WHERE status <> 'pending' AND item_id = ANY($1)`, itemIDs)
	if err != nil {
		return 0, fmt.Errorf("resetting attempts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *attemptStore) ResetByErrorType(ctx context.Context, dataset string, errType domain.ErrorType) (int, error) {
	if !errType.IsValid() {
		return 0, domain.ErrUnknownErrorType
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_attempts
		SET status = 'pending', reset_count = reset_count + 1
		WHERE status = 'error' AND error_type = $1 AND ($2 = '' OR dataset = $2)`,
		string(errType), dataset)
	if err != nil {
		return 0, fmt.Errorf("resetting attempts by error type: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *attemptStore) CountByErrorType(ctx context.Context, dataset string) ([]domain.ErrorTypeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT error_type, COUNT(*) AS n FROM processing_attempts
		WHERE status = 'error' AND ($1 = '' OR dataset = $1)
		GROUP BY error_type
		ORDER BY n DESC, error_type`, dataset)
	if err != nil {
		return nil, fmt.Errorf("counting attempts by error type: %w", err)
	}
	return collectValues(rows, func(row pgx.Row) (domain.ErrorTypeCount, error) {
		var c domain.ErrorTypeCount
		var t string
		err := row.Scan(&t, &c.Count)
		c.ErrorType = domain.ErrorType(t)
		return c, err
	})
}

func (s *attemptStore) Stats(ctx context.Context, dataset string) (domain.AttemptStats, error) {
	var st domain.AttemptStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'error')
		FROM processing_attempts
		WHERE ($1 = '' OR dataset = $1)`, dataset).Scan(&st.Pending, &st.Success, &st.Error)
	if err != nil {
		return st, fmt.Errorf("counting attempts: %w", err)
	}
	return st, nil
}

func scanAttempt(row pgx.Row) (*domain.ProcessingAttempt, error) {
	var a domain.ProcessingAttempt
	var entityKey, task, docURL, errMsg, output *string
	var status, errType string
	if err := row.Scan(&a.ItemID, &a.Dataset, &entityKey, &task, &docURL, &status, &errType,
		&errMsg, &a.Attempts, &a.ResetCount, &a.LastAttemptAt, &output, &a.CreatedAt); err != nil {
		return nil, err
	}
	if output != nil {
		f, err := unmarshalFields(*output)
		if err != nil {
			return nil, err
		}
		a.Output = f
	}
	a.EntityKey = deref(entityKey)
	a.Task = deref(task)
	a.DocumentURL = deref(docURL)
	a.Status = domain.AttemptStatus(status)
	a.ErrorType = domain.ErrorType(errType)
	a.ErrorMessage = deref(errMsg)
	return &a, nil
}
