package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// snapshotStore implements driven.SnapshotStore.
type snapshotStore struct {
	store *Store
}

var _ driven.SnapshotStore = (*snapshotStore)(nil)

const snapshotColumns = `id, run_id, dataset, origin, page_index, fetched_at, status_code, payload, error, attempts`

// Record inserts a snapshot. The row is durable when Record returns.
func (s *snapshotStore) Record(ctx context.Context, snap *domain.SourceSnapshot) error {
	if snap == nil || snap.ID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO source_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, nullString(snap.RunID), snap.Dataset, snap.Origin, snap.PageIndex,
		formatTime(snap.FetchedAt), snap.StatusCode, snap.Payload,
		nullString(snap.Error), snap.Attempts)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("snapshot %s: %w", snap.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("recording snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (s *snapshotStore) Get(ctx context.Context, id string) (*domain.SourceSnapshot, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM source_snapshots WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return snap, err
}

// List returns snapshots matching the filter, oldest first.
func (s *snapshotStore) List(ctx context.Context, filter domain.SnapshotFilter) ([]domain.SourceSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM source_snapshots WHERE 1 = 1`
	var args []any
	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.FailedOnly {
		query += ` AND error IS NOT NULL`
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.SourceSnapshot //nolint:prealloc // size unknown from query
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snaps, nil
}

// Count returns the number of snapshots stored for a dataset.
func (s *snapshotStore) Count(ctx context.Context, dataset string) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_snapshots WHERE dataset = ?`, dataset).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*domain.SourceSnapshot, error) {
	var snap domain.SourceSnapshot
	var runID, errMsg sql.NullString
	var fetchedAt string

	if err := sc.Scan(&snap.ID, &runID, &snap.Dataset, &snap.Origin, &snap.PageIndex,
		&fetchedAt, &snap.StatusCode, &snap.Payload, &errMsg, &snap.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	snap.RunID = runID.String
	snap.Error = errMsg.String
	snap.FetchedAt = parseTime(fetchedAt)
	return &snap, nil
}
