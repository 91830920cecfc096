package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/logger"
)

// runLocker implements driven.RunLocker with a lease row per dataset.
// A crashed holder's lease expires after ttl and can then be taken over.
type runLocker struct {
	store *Store
	ttl   time.Duration
	now   func() time.Time
}

var _ driven.RunLocker = (*runLocker)(nil)

// Acquire takes the dataset lease if it is free or expired.
func (l *runLocker) Acquire(ctx context.Context, dataset, owner string) (driven.RunLock, error) {
	token := uuid.New().String()
	now := l.now()

	res, err := l.store.db.ExecContext(ctx, `
		INSERT INTO run_locks (dataset, owner, token, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dataset) DO UPDATE SET
			owner = excluded.owner,
			token = excluded.token,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE run_locks.expires_at < excluded.acquired_at
	`, dataset, owner, token, formatTime(now), formatTime(now.Add(l.ttl)))
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if n == 0 {
		var holder string
		_ = l.store.db.QueryRowContext(ctx,
			`SELECT owner FROM run_locks WHERE dataset = ?`, dataset).Scan(&holder)
		return nil, fmt.Errorf("%w: dataset %q held by %s", domain.ErrRunInProgress, dataset, holder)
	}

	lock := &runLock{
		locker:  l,
		dataset: dataset,
		token:   token,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go lock.heartbeat()
	return lock, nil
}

// runLock is one held lease. A heartbeat extends it every ttl/3.
type runLock struct {
	locker  *runLocker
	dataset string
	token   string

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (r *runLock) heartbeat() {
	defer close(r.done)
	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.renew(context.Background()); err != nil {
				logger.Warn("run lock heartbeat for %s: %v", r.dataset, err)
			}
		}
	}
}

func (r *runLock) renew(ctx context.Context) error {
	res, err := r.locker.store.db.ExecContext(ctx,
		`UPDATE run_locks SET expires_at = ? WHERE dataset = ? AND token = ?`,
		formatTime(r.locker.now().Add(r.locker.ttl)), r.dataset, r.token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// Release stops the heartbeat and deletes the lease if still held.
func (r *runLock) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		_, execErr := r.locker.store.db.ExecContext(ctx,
			`DELETE FROM run_locks WHERE dataset = ? AND token = ?`, r.dataset, r.token)
		if execErr != nil {
			err = fmt.Errorf("releasing run lock: %w", execErr)
		}
	})
	return err
}
