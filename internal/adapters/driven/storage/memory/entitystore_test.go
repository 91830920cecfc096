package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

func TestEntityStore_ApplyNewThenUpdate(t *testing.T) {
	store := NewEntityStore()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	require.NoError(t, store.Apply(ctx, "d", "r1", []domain.EntityWrite{
		{Key: "42", Kind: domain.ChangeNew, Fields: domain.Fields{"status": "open"}},
	}, t0))

	e, err := store.Get(ctx, "d", "42")
	require.NoError(t, err)
	assert.Equal(t, t0, e.FirstSeenAt)
	assert.Nil(t, e.LastChangedAt)
	assert.Equal(t, "r1", e.LastRunID)

	require.NoError(t, store.Apply(ctx, "d", "r2", []domain.EntityWrite{{
		Key:     "42",
		Kind:    domain.ChangeUpdated,
		Fields:  domain.Fields{"status": "closed"},
		Changes: []domain.FieldChange{{Field: "status", Old: "open", New: "closed"}},
	}}, t1))

	e, err = store.Get(ctx, "d", "42")
	require.NoError(t, err)
	assert.Equal(t, t0, e.FirstSeenAt)
	require.NotNil(t, e.LastChangedAt)
	assert.Equal(t, t1, *e.LastChangedAt)
	assert.Equal(t, "closed", e.Fields["status"])

	hist, err := store.History(ctx, "d", "42")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "open", hist[0].Old)
	assert.Equal(t, "r2", hist[0].RunID)
}

func TestEntityStore_ApplyRejectsWholeChunk(t *testing.T) {
	store := NewEntityStore()
	ctx := context.Background()

	err := store.Apply(ctx, "d", "r1", []domain.EntityWrite{
		{Key: "1", Kind: domain.ChangeNew},
		{Key: "", Kind: domain.ChangeNew},
	}, time.Now())
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)

	n, err := store.Count(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntityStore_LookupAndList(t *testing.T) {
	store := NewEntityStore()
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "d", "r1", []domain.EntityWrite{
		{Key: "b", Kind: domain.ChangeNew},
		{Key: "a", Kind: domain.ChangeNew},
		{Key: "c", Kind: domain.ChangeNew},
	}, time.Now()))

	found, err := store.Lookup(ctx, "d", []string{"a", "zz"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "a")

	page, err := store.List(ctx, "d", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Key)
	assert.Equal(t, "c", page[1].Key)

	page, err = store.List(ctx, "d", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}
