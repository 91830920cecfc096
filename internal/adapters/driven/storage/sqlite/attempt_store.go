package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// attemptStore implements driven.AttemptStore.
type attemptStore struct {
	store *Store
}

var _ driven.AttemptStore = (*attemptStore)(nil)

const attemptColumns = `item_id, dataset, entity_key, task, document_url, status, error_type,
	error_message, attempts, reset_count, last_attempt_at, output, created_at`

// Record upserts one attempt outcome. A pending record keeps the previous
// error tag and output; success and error records count as an attempt.
func (s *attemptStore) Record(ctx context.Context, rec domain.AttemptRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	attempted := rec.Status != domain.AttemptPending
	var output any
	if rec.Status == domain.AttemptSuccess {
		encoded, err := marshalFields(rec.Output)
		if err != nil {
			return err
		}
		output = encoded
	}
	var lastAttempt any
	if attempted {
		lastAttempt = formatTime(rec.At)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO processing_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
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
				THEN excluded.output ELSE processing_attempts.output END
	`, rec.ItemID, rec.Dataset, nullString(rec.EntityKey), nullString(rec.Task), nullString(rec.DocumentURL),
		string(rec.Status), string(rec.ErrorType), nullString(rec.ErrorMessage), boolToInt(attempted),
		lastAttempt, output, formatTime(rec.At))
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Get retrieves one attempt.
func (s *attemptStore) Get(ctx context.Context, itemID string) (*domain.ProcessingAttempt, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM processing_attempts WHERE item_id = ?`, itemID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// GetMany retrieves attempts for the given item IDs.
func (s *attemptStore) GetMany(ctx context.Context, itemIDs []string) (map[string]*domain.ProcessingAttempt, error) {
	out := make(map[string]*domain.ProcessingAttempt, len(itemIDs))
	for _, batch := range batches(itemIDs, maxParams) {
		placeholders, args := inClause(batch)
		list, err := s.query(ctx,
			`SELECT `+attemptColumns+` FROM processing_attempts WHERE item_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for i := range list {
			out[list[i].ItemID] = &list[i]
		}
	}
	return out, nil
}

// List returns attempts matching the filter, oldest first.
func (s *attemptStore) List(ctx context.Context, filter domain.AttemptFilter) ([]domain.ProcessingAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM processing_attempts WHERE 1 = 1`
	var args []any
	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	if filter.Task != "" {
		query += ` AND task = ?`
		args = append(args, filter.Task)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ErrorType != domain.ErrorTypeNone {
		query += ` AND error_type = ?`
		args = append(args, string(filter.ErrorType))
	}
	query += ` ORDER BY created_at, item_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.query(ctx, query, args...)
}

// Reset moves the given items back to pending.
func (s *attemptStore) Reset(ctx context.Context, itemIDs []string) (int, error) {
	total := 0
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, batch := range batches(itemIDs, maxParams) {
			placeholders, args := inClause(batch)
			res, err := tx.ExecContext(ctx, `
				UPDATE processing_attempts
				SET status = 'pending', reset_count = reset_count + 1
				WHERE status != 'pending' AND item_id IN (`+placeholders+`)
			`, args...)
			if err != nil {
				return fmt.Errorf("resetting attempts: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("resetting attempts: %w", err)
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ResetByErrorType resets error items carrying the given type.
func (s *attemptStore) ResetByErrorType(ctx context.Context, dataset string, errType domain.ErrorType) (int, error) {
	if !errType.IsValid() {
		return 0, domain.ErrUnknownErrorType
	}
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE processing_attempts
		SET status = 'pending', reset_count = reset_count + 1
		WHERE status = 'error' AND error_type = ? AND (? = '' OR dataset = ?)
	`, string(errType), dataset, dataset)
	if err != nil {
		return 0, fmt.Errorf("resetting attempts by error type: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resetting attempts by error type: %w", err)
	}
	return int(n), nil
}

// CountByErrorType aggregates error items by type, most frequent first.
func (s *attemptStore) CountByErrorType(ctx context.Context, dataset string) ([]domain.ErrorTypeCount, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT error_type, COUNT(*) AS n
		FROM processing_attempts
		WHERE status = 'error' AND (? = '' OR dataset = ?)
		GROUP BY error_type
		ORDER BY n DESC, error_type
	`, dataset, dataset)
	if err != nil {
		return nil, fmt.Errorf("counting attempts by error type: %w", err)
	}
	defer rows.Close()

	var out []domain.ErrorTypeCount //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.ErrorTypeCount
		var t string
		if err := rows.Scan(&t, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning error type count: %w", err)
		}
		c.ErrorType = domain.ErrorType(t)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating error type counts: %w", err)
	}
	return out, nil
}

// Stats counts items by status.
func (s *attemptStore) Stats(ctx context.Context, dataset string) (domain.AttemptStats, error) {
	var st domain.AttemptStats
	err := s.store.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0)
		FROM processing_attempts
		WHERE (? = '' OR dataset = ?)
	`, dataset, dataset).Scan(&st.Pending, &st.Success, &st.Error)
	if err != nil {
		return st, fmt.Errorf("counting attempts: %w", err)
	}
	return st, nil
}

func (s *attemptStore) query(ctx context.Context, query string, args ...any) ([]domain.ProcessingAttempt, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingAttempt //nolint:prealloc // size unknown from query
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(sc scanner) (*domain.ProcessingAttempt, error) {
	var a domain.ProcessingAttempt
	var entityKey, task, docURL, errMsg, lastAttempt, output sql.NullString
	var status, errType, createdAt string

	if err := sc.Scan(&a.ItemID, &a.Dataset, &entityKey, &task, &docURL, &status, &errType,
		&errMsg, &a.Attempts, &a.ResetCount, &lastAttempt, &output, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning attempt: %w", err)
	}

	out, err := unmarshalFields(output)
	if err != nil {
		return nil, err
	}
	a.EntityKey = entityKey.String
	a.Task = task.String
	a.DocumentURL = docURL.String
	a.Status = domain.AttemptStatus(status)
	a.ErrorType = domain.ErrorType(errType)
	a.ErrorMessage = errMsg.String
	a.LastAttemptAt = parseTimePtr(lastAttempt)
	a.Output = out
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
