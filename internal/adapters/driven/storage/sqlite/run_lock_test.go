package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

func TestRunLocker_Exclusive(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	locker := store.RunLocker(time.Minute)

	lock, err := locker.Acquire(ctx, "d", "first")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "d", "second")
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Contains(t, err.Error(), "first")

	other, err := locker.Acquire(ctx, "other", "second")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))

	again, err := locker.Acquire(ctx, "d", "second")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRunLocker_ExpiredLeaseIsReclaimed(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	clock := time.Now()
	locker := &runLocker{store: store, ttl: time.Minute, now: func() time.Time { return clock }}

	crashed, err := locker.Acquire(ctx, "d", "crashed")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	lock, err := locker.Acquire(ctx, "d", "next")
	require.NoError(t, err)

	// The stale holder's release must not drop the new lease.
	require.NoError(t, crashed.Release(ctx))
	_, err = locker.Acquire(ctx, "d", "third")
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	require.NoError(t, lock.Release(ctx))
}

func TestRunLock_Renew(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	locker := &runLocker{store: store, ttl: time.Minute, now: time.Now}

	held, err := locker.Acquire(ctx, "d", "owner")
	require.NoError(t, err)
	lock := held.(*runLock)

	require.NoError(t, lock.renew(ctx))
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.renew(ctx), domain.ErrLockNotHeld)
}
