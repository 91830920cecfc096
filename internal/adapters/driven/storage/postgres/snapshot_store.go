package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

type snapshotStore struct {
	pool *pgxpool.Pool
}

var _ driven.SnapshotStore = (*snapshotStore)(nil)

const snapshotColumns = `id, run_id, dataset, origin, page_index, fetched_at, status_code, payload, error, attempts`

func (s *snapshotStore) Record(ctx context.Context, snap *domain.SourceSnapshot) error {
	if snap == nil || snap.ID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.ID, nullString(snap.RunID), snap.Dataset, snap.Origin, snap.PageIndex,
		snap.FetchedAt.UTC(), snap.StatusCode, snap.Payload, nullString(snap.Error), snap.Attempts)
	if isUniqueViolation(err) {
		return fmt.Errorf("snapshot %s: %w", snap.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}
	return nil
}

func (s *snapshotStore) Get(ctx context.Context, id string) (*domain.SourceSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM source_snapshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return snap, err
}

func (s *snapshotStore) List(ctx context.Context, filter domain.SnapshotFilter) ([]domain.SourceSnapshot, error) {
	limit := any(nil)
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM source_snapshots
		WHERE ($1 = '' OR dataset = $1)
		  AND ($2 = '' OR run_id = $2)
		  AND (NOT $3 OR error IS NOT NULL)
		ORDER BY seq
		LIMIT $4`, filter.Dataset, filter.RunID, filter.FailedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	return collect(rows, scanSnapshot)
}

func (s *snapshotStore) Count(ctx context.Context, dataset string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM source_snapshots WHERE dataset = $1`, dataset).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

func scanSnapshot(row pgx.Row) (*domain.SourceSnapshot, error) {
	var snap domain.SourceSnapshot
	var runID, errMsg *string
	if err := row.Scan(&snap.ID, &runID, &snap.Dataset, &snap.Origin, &snap.PageIndex,
		&snap.FetchedAt, &snap.StatusCode, &snap.Payload, &errMsg, &snap.Attempts); err != nil {
		return nil, err
	}
	snap.RunID = deref(runID)
	snap.Error = deref(errMsg)
	return &snap, nil
}
