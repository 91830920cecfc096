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

type entityStore struct {
	pool *pgxpool.Pool
}

var _ driven.EntityStore = (*entityStore)(nil)

const entityColumns = `dataset, key, fields::text, first_seen_at, last_changed_at, last_run_id`

func (s *entityStore) Lookup(ctx context.Context, dataset string, keys []string) (map[string]*domain.Entity, error) {
	out := make(map[string]*domain.Entity, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset = $1 AND key = ANY($2)`, dataset, keys)
	if err != nil {
		return nil, fmt.Errorf("looking up entities: %w", err)
	}
	list, err := collect(rows, scanEntity)
	if err != nil {
		return nil, err
	}
	for i := range list {
		out[list[i].Key] = &list[i]
	}
	return out, nil
}

// Apply queues every write and history row on one batch inside a transaction.
func (s *entityStore) Apply(ctx context.Context, dataset, runID string, writes []domain.EntityWrite, at time.Time) error {
	b := &pgx.Batch{}
	at = at.UTC()
	for _, w := range writes {
		if w.Key == "" {
			return domain.ErrMissingIdentity
		}
		if w.Kind != domain.ChangeNew && w.Kind != domain.ChangeUpdated {
			return fmt.Errorf("%w: write kind %s", domain.ErrInvalidInput, w.Kind)
		}
		fields, err := marshalJSON(w.Fields)
		if err != nil {
			return err
		}
		var changedAt *time.Time
		if w.Kind == domain.ChangeUpdated {
			changedAt = &at
		}
		b.Queue(`
			INSERT INTO entities (dataset, key, fields, first_seen_at, last_changed_at, last_run_id)
			VALUES ($1, $2, $3::jsonb, $4, NULL, $5)
			ON CONFLICT (dataset, key) DO UPDATE SET
				fields = excluded.fields,
				last_run_id = excluded.last_run_id,
				last_changed_at = COALESCE($6, entities.last_changed_at)`,
			dataset, w.Key, fields, at, nullString(runID), changedAt)

		for _, c := range w.Changes {
			oldVal, err := marshalJSON(c.Old)
			if err != nil {
				return err
			}
			newVal, err := marshalJSON(c.New)
			if err != nil {
				return err
			}
			b.Queue(`
				INSERT INTO entity_changes (dataset, entity_key, run_id, field, old_value, new_value, changed_at)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)`,
				dataset, w.Key, nullString(runID), c.Field, oldVal, newVal, at)
		}
	}
	if b.Len() == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, b)
		for i := 0; i < b.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("applying chunk: %w", err)
			}
		}
		return br.Close()
	})
}

func (s *entityStore) Get(ctx context.Context, dataset, key string) (*domain.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset = $1 AND key = $2`, dataset, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (s *entityStore) List(ctx context.Context, dataset string, limit, offset int) ([]domain.Entity, error) {
	lim := any(nil)
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset = $1 ORDER BY key LIMIT $2 OFFSET $3`,
		dataset, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return collect(rows, scanEntity)
}

func (s *entityStore) Count(ctx context.Context, dataset string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE dataset = $1`, dataset).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return n, nil
}

func (s *entityStore) History(ctx context.Context, dataset, key string) ([]domain.EntityChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dataset, entity_key, run_id, field, old_value::text, new_value::text, changed_at
		FROM entity_changes WHERE dataset = $1 AND entity_key = $2 ORDER BY id`, dataset, key)
	if err != nil {
		return nil, fmt.Errorf("querying change history: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*domain.EntityChange, error) {
		var c domain.EntityChange
		var runID, oldVal, newVal *string
		if err := row.Scan(&c.Dataset, &c.Key, &runID, &c.Field, &oldVal, &newVal, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.RunID = deref(runID)
		c.Old = unmarshalValue(oldVal)
		c.New = unmarshalValue(newVal)
		return &c, nil
	})
}

func scanEntity(row pgx.Row) (*domain.Entity, error) {
	var e domain.Entity
	var fields string
	var lastRun *string
	if err := row.Scan(&e.Dataset, &e.Key, &fields, &e.FirstSeenAt, &e.LastChangedAt, &lastRun); err != nil {
		return nil, err
	}
	f, err := unmarshalFields(fields)
	if err != nil {
		return nil, err
	}
	e.Fields = f
	e.LastRunID = deref(lastRun)
	return &e, nil
}
