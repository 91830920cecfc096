package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

func recordError(t *testing.T, attempts driven.AttemptStore, id string, et domain.ErrorType) {
	t.Helper()
	require.NoError(t, attempts.Record(context.Background(), domain.AttemptRecord{
		ItemID: id, Dataset: "d", EntityKey: "e-" + id, Task: "parse_document",
		DocumentURL: "https://docs.example.com/" + id, Status: domain.AttemptError,
		ErrorType: et, ErrorMessage: "failed", At: time.Now(),
	}))
}

func TestAttemptStore_RecordLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	attempts := store.AttemptStore()

	require.NoError(t, attempts.Record(ctx, domain.AttemptRecord{
		ItemID: "i1", Dataset: "d", EntityKey: "42", Task: "parse_document", Status: domain.AttemptPending, At: time.Now(),
	}))
	a, err := attempts.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptPending, a.Status)
	assert.Zero(t, a.Attempts)
	assert.Nil(t, a.LastAttemptAt)

	recordError(t, attempts, "i1", domain.ErrorTypeTimeout)
	a, err = attempts.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, domain.ErrorTypeTimeout, a.ErrorType)
	assert.NotNil(t, a.LastAttemptAt)

	require.NoError(t, attempts.Record(ctx, domain.AttemptRecord{
		ItemID: "i1", Dataset: "d", EntityKey: "42", Task: "parse_document",
		Status: domain.AttemptSuccess, Output: domain.Fields{"title": "Notice"}, At: time.Now(),
	}))
	a, err = attempts.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Attempts)
	assert.Equal(t, domain.AttemptSuccess, a.Status)
	assert.Equal(t, domain.ErrorTypeNone, a.ErrorType)
	assert.Equal(t, "Notice", a.Output["title"])

	_, err = attempts.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttemptStore_RecordValidates(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	attempts := store.AttemptStore()

	err := attempts.Record(ctx, domain.AttemptRecord{ItemID: "i", Status: domain.AttemptError, ErrorType: "NOT_A_TYPE"})
	assert.ErrorIs(t, err, domain.ErrUnknownErrorType)

	err = attempts.Record(ctx, domain.AttemptRecord{ItemID: "i", Status: domain.AttemptSuccess, ErrorType: domain.ErrorTypeTimeout})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// Selective reset: N UPSTREAM_NOT_FOUND and M TIMEOUT, resetting TIMEOUT
// moves exactly M to pending.
func TestAttemptStore_ResetByErrorType(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	attempts := store.AttemptStore()

	const n, m = 4, 3
	for i := 0; i < n; i++ {
		recordError(t, attempts, fmt.Sprintf("nf-%d", i), domain.ErrorTypeUpstreamNotFound)
	}
	for i := 0; i < m; i++ {
		recordError(t, attempts, fmt.Sprintf("to-%d", i), domain.ErrorTypeTimeout)
	}
	require.NoError(t, attempts.Record(ctx, domain.AttemptRecord{ItemID: "ok", Dataset: "d", Status: domain.AttemptSuccess, At: time.Now()}))

	counts, err := attempts.CountByErrorType(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []domain.ErrorTypeCount{
		{ErrorType: domain.ErrorTypeUpstreamNotFound, Count: n},
		{ErrorType: domain.ErrorTypeTimeout, Count: m},
	}, counts)

	reset, err := attempts.ResetByErrorType(ctx, "d", domain.ErrorTypeTimeout)
	require.NoError(t, err)
	assert.Equal(t, m, reset)

	stats, err := attempts.Stats(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStats{Pending: m, Success: 1, Error: n}, stats)

	a, err := attempts.Get(ctx, "to-0")
	require.NoError(t, err)
	assert.Equal(t, 1, a.ResetCount)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, domain.ErrorTypeTimeout, a.ErrorType)

	_, err = attempts.ResetByErrorType(ctx, "d", "BOGUS")
	assert.ErrorIs(t, err, domain.ErrUnknownErrorType)
}

func TestAttemptStore_ResetAndList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	attempts := store.AttemptStore()

	recordError(t, attempts, "a", domain.ErrorTypeEmptyDocument)
	recordError(t, attempts, "b", domain.ErrorTypeEmptyDocument)
	recordError(t, attempts, "c", domain.ErrorTypeTransient)

	n, err := attempts.Reset(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already pending items are not counted twice.
	n, err = attempts.Reset(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := attempts.List(ctx, domain.AttemptFilter{Dataset: "d", Status: domain.AttemptPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	empty, err := attempts.List(ctx, domain.AttemptFilter{ErrorType: domain.ErrorTypeEmptyDocument, Status: domain.AttemptError})
	require.NoError(t, err)
	require.Len(t, empty, 1)
	assert.Equal(t, "b", empty[0].ItemID)

	many, err := attempts.GetMany(ctx, []string{"a", "b", "zz"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.Equal(t, "e-a", many["a"].EntityKey)
}
