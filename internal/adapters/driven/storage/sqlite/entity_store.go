package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// entityStore implements driven.EntityStore.
type entityStore struct {
	store *Store
}

var _ driven.EntityStore = (*entityStore)(nil)

const entityColumns = `dataset, key, fields, first_seen_at, last_changed_at, last_run_id`

// Lookup returns stored entities for the given keys, batching the IN list.
func (s *entityStore) Lookup(ctx context.Context, dataset string, keys []string) (map[string]*domain.Entity, error) {
	out := make(map[string]*domain.Entity, len(keys))
	for _, batch := range batches(keys, maxParams) {
		placeholders, args := inClause(batch)
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE dataset = ? AND key IN (`+placeholders+`)`,
			append([]any{dataset}, args...)...)
		if err != nil {
			return nil, fmt.Errorf("looking up entities: %w", err)
		}
		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[e.Key] = e
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating entities: %w", err)
		}
	}
	return out, nil
}

// Apply commits a chunk of writes and their change history in one transaction.
func (s *entityStore) Apply(ctx context.Context, dataset, runID string, writes []domain.EntityWrite, at time.Time) error {
	for _, w := range writes {
		if w.Key == "" {
			return domain.ErrMissingIdentity
		}
		if w.Kind != domain.ChangeNew && w.Kind != domain.ChangeUpdated {
			return fmt.Errorf("%w: write kind %s", domain.ErrInvalidInput, w.Kind)
		}
	}

	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (dataset, key, fields, first_seen_at, last_changed_at, last_run_id)
			VALUES (?, ?, ?, ?, NULL, ?)
			ON CONFLICT(dataset, key) DO UPDATE SET
				fields = excluded.fields,
				last_run_id = excluded.last_run_id,
				last_changed_at = COALESCE(?, entities.last_changed_at)
		`)
		if err != nil {
			return fmt.Errorf("preparing entity upsert: %w", err)
		}
		defer upsert.Close()

		history, err := tx.PrepareContext(ctx, `
			INSERT INTO entity_changes (dataset, entity_key, run_id, field, old_value, new_value, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing change history insert: %w", err)
		}
		defer history.Close()

		stamp := formatTime(at)
		for _, w := range writes {
			fields, err := marshalFields(w.Fields)
			if err != nil {
				return err
			}
			var changedAt any
			if w.Kind == domain.ChangeUpdated {
				changedAt = stamp
			}
			if _, err := upsert.ExecContext(ctx, dataset, w.Key, fields, stamp, nullString(runID), changedAt); err != nil {
				return fmt.Errorf("writing entity %s: %w", w.Key, err)
			}

			for _, c := range w.Changes {
				oldVal, err := marshalValue(c.Old)
				if err != nil {
					return err
				}
				newVal, err := marshalValue(c.New)
				if err != nil {
					return err
				}
				if _, err := history.ExecContext(ctx, dataset, w.Key, nullString(runID),
					c.Field, oldVal, newVal, stamp); err != nil {
					return fmt.Errorf("writing change history for %s: %w", w.Key, err)
				}
			}
		}
		return nil
	})
}

// Get retrieves one entity.
func (s *entityStore) Get(ctx context.Context, dataset, key string) (*domain.Entity, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset = ? AND key = ?`, dataset, key)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

// List returns entities ordered by key.
func (s *entityStore) List(ctx context.Context, dataset string, limit, offset int) ([]domain.Entity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset = ? ORDER BY key LIMIT ? OFFSET ?`,
		dataset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity //nolint:prealloc // size unknown from query
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

// Count returns the number of entities in a dataset.
func (s *entityStore) Count(ctx context.Context, dataset string) (int, error) {
	var n int
	if err := s.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE dataset = ?`, dataset).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return n, nil
}

// History returns the change rows of one entity, oldest first.
func (s *entityStore) History(ctx context.Context, dataset, key string) ([]domain.EntityChange, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT dataset, entity_key, run_id, field, old_value, new_value, changed_at
		FROM entity_changes
		WHERE dataset = ? AND entity_key = ?
		ORDER BY id
	`, dataset, key)
	if err != nil {
		return nil, fmt.Errorf("querying change history: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityChange //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.EntityChange
		var runID, oldVal, newVal sql.NullString
		var changedAt string
		if err := rows.Scan(&c.Dataset, &c.Key, &runID, &c.Field, &oldVal, &newVal, &changedAt); err != nil {
			return nil, fmt.Errorf("scanning change history: %w", err)
		}
		c.RunID = runID.String
		c.Old = unmarshalValue(oldVal)
		c.New = unmarshalValue(newVal)
		c.ChangedAt = parseTime(changedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change history: %w", err)
	}
	return out, nil
}

func scanEntity(sc scanner) (*domain.Entity, error) {
	var e domain.Entity
	var fields, lastChanged, lastRun sql.NullString
	var firstSeen string

	if err := sc.Scan(&e.Dataset, &e.Key, &fields, &firstSeen, &lastChanged, &lastRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning entity: %w", err)
	}

	f, err := unmarshalFields(fields)
	if err != nil {
		return nil, err
	}
	e.Fields = f
	e.FirstSeenAt = parseTime(firstSeen)
	e.LastChangedAt = parseTimePtr(lastChanged)
	e.LastRunID = lastRun.String
	return &e, nil
}
