package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed storage exposing every store port.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to cfg.DSN and ensures the schema exists.
func NewStore(ctx context.Context, cfg domain.StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: postgres dsn is empty", domain.ErrInvalidInput)
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SnapshotStore returns a SnapshotStore backed by this store.
func (s *Store) SnapshotStore() driven.SnapshotStore { return &snapshotStore{pool: s.pool} }

// EntityStore returns an EntityStore backed by this store.
func (s *Store) EntityStore() driven.EntityStore { return &entityStore{pool: s.pool} }

// RunStore returns a RunStore backed by this store.
func (s *Store) RunStore() driven.RunStore { return &runStore{pool: s.pool} }

// AttemptStore returns an AttemptStore backed by this store.
func (s *Store) AttemptStore() driven.AttemptStore { return &attemptStore{pool: s.pool} }

// SchedulerStore returns a SchedulerStore backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore { return &schedulerStore{pool: s.pool} }

// RunLocker returns an advisory-lock based RunLocker.
func (s *Store) RunLocker() driven.RunLocker { return &runLocker{pool: s.pool} }

// collect scans every row with scan and closes rows.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// collectValues is collect for scanners returning values.
func collectValues[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	return collect(rows, func(row pgx.Row) (*T, error) {
		v, err := scan(row)
		return &v, err
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling json: %w", err)
	}
	return string(b), nil
}

func unmarshalFields(s string) (domain.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var f domain.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	return f, nil
}

func unmarshalValue(s *string) any {
	if s == nil {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(*s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return *s
	}
	return v
}
