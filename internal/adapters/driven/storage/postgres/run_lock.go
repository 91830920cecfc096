package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// runLocker implements driven.RunLocker with session advisory locks.
// The lock lives as long as the pinned connection, so a crashed process
// releases it when its session ends.
type runLocker struct {
	pool *pgxpool.Pool
}

var _ driven.RunLocker = (*runLocker)(nil)

func (l *runLocker) Acquire(ctx context.Context, dataset, owner string) (driven.RunLock, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for run lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtextextended('harvest:' || $1, 0))`, dataset).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: dataset %q (requested by %s)", domain.ErrRunInProgress, dataset, owner)
	}
	return &advisoryLock{conn: conn, dataset: dataset}, nil
}

// closeTimeout bounds closing a connection whose unlock failed.
const closeTimeout = 5 * time.Second

type advisoryLock struct {
	conn    *pgxpool.Conn
	dataset string
	once    sync.Once
}

func (a *advisoryLock) Release(ctx context.Context) error {
	var err error
	a.once.Do(func() {
		defer a.conn.Release()
		var released bool
		if qerr := a.conn.QueryRow(ctx,
			`SELECT pg_advisory_unlock(hashtextextended('harvest:' || $1, 0))`, a.dataset).Scan(&released); qerr != nil {
			// The session may still hold the lock; ending it drops the lock
			// and keeps the connection out of the pool.
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer cancel()
			_ = a.conn.Conn().Close(closeCtx)
			err = fmt.Errorf("releasing run lock: %w", qerr)
			return
		}
		if !released {
			err = domain.ErrLockNotHeld
		}
	})
	return err
}
