package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
)

func threeRecordUpstream() *fakeUpstream {
	return newFakeUpstream().
		page(0, body(3, `{"id":1,"title":"A"}`, `{"id":2,"title":"B"}`)).
		page(1, body(3, `{"id":3,"title":"C"}`))
}

func TestSyncService_Run_InsertsNewEntities(t *testing.T) {
	p := newPipeline(t, testConfig(), threeRecordUpstream(), nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, domain.Counters{New: 3, Pages: 2}, report.Counters)
	assert.Equal(t, 1, report.Chunks)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, p.entityCount(t))
	assert.Equal(t, 2, p.snapshotCount(t))

	run, err := p.tracker.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, report.Counters, run.Counters)
}

func TestSyncService_Run_IsIdempotent(t *testing.T) {
	p := newPipeline(t, testConfig(), threeRecordUpstream(), nil)
	ctx := context.Background()

	first, err := p.sync.Run(ctx, driving.SyncOptions{})
	require.NoError(t, err)
	second, err := p.sync.Run(ctx, driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.Counters{Unchanged: 3, Pages: 2}, second.Counters)
	assert.Equal(t, 3, p.entityCount(t))

	// Nothing was rewritten by the second run.
	assert.Equal(t, first.RunID, p.entity(t, "1").LastRunID)
	history, err := p.store.History(ctx, "tenders", "1")
	require.NoError(t, err)
	assert.Empty(t, history)

	// Snapshots are appended by every run.
	assert.Equal(t, 4, p.snapshotCount(t))

	runs, err := p.tracker.List(ctx, "tenders", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSyncService_Run_UpdatedAndNew(t *testing.T) {
	up := newFakeUpstream().page(0, body(2,
		`{"id":42,"title":"Road works","status":"approved"}`,
		`{"id":99,"title":"Bridge","status":"open"}`))
	p := newPipeline(t, testConfig(), up, nil)
	p.seed(t, domain.Fields{"id": 42, "title": "Road works", "status": "pending_review"})

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counters.New)
	assert.Equal(t, 1, report.Counters.Updated)
	assert.Equal(t, 0, report.Counters.Unchanged)

	updated := p.entity(t, "42")
	assert.Equal(t, "approved", updated.Fields["status"])
	assert.NotNil(t, updated.LastChangedAt)
	assert.Equal(t, report.RunID, updated.LastRunID)

	history, err := p.store.History(context.Background(), "tenders", "42")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "status", history[0].Field)
	assert.Equal(t, "pending_review", history[0].Old)
	assert.Equal(t, "approved", history[0].New)
	assert.Equal(t, report.RunID, history[0].RunID)
}

func TestSyncService_Run_IgnoresFieldsOutsideComparisonSet(t *testing.T) {
	up := newFakeUpstream().page(0, body(1, `{"id":1,"title":"A","views":99}`))
	p := newPipeline(t, testConfig(), up, nil)
	p.seed(t, domain.Fields{"id": 1, "title": "A", "views": 10})

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.Counters{Unchanged: 1, Pages: 1}, report.Counters)
	assert.Equal(t, 10, p.entity(t, "1").Fields["views"])
}

func TestSyncService_Run_NormalisedValuesAreUnchanged(t *testing.T) {
	up := newFakeUpstream().page(0, body(1,
		`{"id":7,"title":" Bridge ","status":"n/a","amount":"1,000","deadline":"01/03/2024"}`))
	p := newPipeline(t, testConfig(), up, nil)
	p.seed(t, domain.Fields{"id": 7, "title": "Bridge", "amount": 1000, "deadline": "2024-03-01"})

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counters.Unchanged)
	assert.Zero(t, report.Counters.Updated)
}

func TestSyncService_Run_MissingKeyFailsRecord(t *testing.T) {
	up := newFakeUpstream().page(0, body(2, `{"title":"no id"}`, `{"id":5,"title":"E"}`))
	p := newPipeline(t, testConfig(), up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, 1, report.Counters.New)
	assert.Equal(t, 1, report.Counters.Failed)
	assert.Zero(t, report.Counters.ChunksFailed)

	snaps, err := p.snapshots.List(context.Background(), domain.SnapshotFilter{Dataset: "tenders"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], snaps[0].ID)
}

func TestSyncService_Run_ChunkFailureContinues(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(6, `{"id":1}`, `{"id":2}`)).
		page(1, body(6, `{"id":3}`, `{"id":4}`)).
		page(2, body(6, `{"id":5}`, `{"id":6}`))
	p := newPipeline(t, cfg, up, func(s driven.EntityStore) driven.EntityStore {
		return &flakyEntityStore{EntityStore: s, failOn: map[int]bool{2: true}}
	})

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, domain.Counters{New: 4, Failed: 2, Pages: 3, ChunksFailed: 1}, report.Counters)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "disk full")

	// The failed chunk wrote nothing; its neighbours are committed.
	for _, key := range []string{"3", "4"} {
		_, err := p.store.Get(context.Background(), "tenders", key)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 4, p.entityCount(t))

	run, err := p.tracker.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Contains(t, run.Error, "disk full")
}

func TestSyncService_Run_FailedChunkIsPickedUpNextRun(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(4, `{"id":1}`, `{"id":2}`)).
		page(1, body(4, `{"id":3}`, `{"id":4}`))
	p := newPipeline(t, cfg, up, func(s driven.EntityStore) driven.EntityStore {
		return &flakyEntityStore{EntityStore: s, failOn: map[int]bool{1: true}}
	})
	ctx := context.Background()

	_, err := p.sync.Run(ctx, driving.SyncOptions{})
	require.NoError(t, err)
	report, err := p.sync.Run(ctx, driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Counters.New)
	assert.Equal(t, 2, report.Counters.Unchanged)
}

func TestSyncService_Run_FetchAbortFailsRun(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(6, `{"id":1}`, `{"id":2}`)).
		page(1, body(6, `{"id":3}`, `{"id":4}`)).
		page(2, body(6, `{"id":5}`, `{"id":6}`)).
		failNext(1, httpStatusErr{500}, httpStatusErr{502}, httpStatusErr{503})
	p := newPipeline(t, cfg, up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchAborted)

	var aborted *FetchAbortedError
	require.True(t, errors.As(err, &aborted))
	assert.Equal(t, 1, aborted.Page)

	require.NotNil(t, report)
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Equal(t, 2, report.Counters.New)
	assert.Equal(t, 2, p.entityCount(t))
	assert.Zero(t, up.callsFor(2))
	assert.Equal(t, 3, up.callsFor(1))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, p.sleeps)

	failed, err := p.snapshots.List(context.Background(), domain.SnapshotFilter{Dataset: "tenders", FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].PageIndex)
	assert.Equal(t, 503, failed[0].StatusCode)
	assert.Equal(t, 3, failed[0].Attempts)

	run, err := p.tracker.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "fetch aborted at page 1")
}

func TestSyncService_Run_LockHeld(t *testing.T) {
	up := threeRecordUpstream()
	p := newPipeline(t, testConfig(), up, nil)
	ctx := context.Background()

	lock, err := p.locker.Acquire(ctx, "tenders", "other-host:1")
	require.NoError(t, err)

	report, err := p.sync.Run(ctx, driving.SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Nil(t, report)
	assert.Zero(t, up.totalCalls())

	runs, err := p.tracker.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, lock.Release(ctx))
	_, err = p.sync.Run(ctx, driving.SyncOptions{})
	assert.NoError(t, err)
}

func TestSyncService_Run_ReleasesLock(t *testing.T) {
	p := newPipeline(t, testConfig(), threeRecordUpstream(), nil)

	_, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	_, held := p.locker.Holder("tenders")
	assert.False(t, held)
}

func TestSyncService_Run_CancelledBeforeStart(t *testing.T) {
	up := threeRecordUpstream()
	p := newPipeline(t, testConfig(), up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.sync.Run(ctx, driving.SyncOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Zero(t, p.entityCount(t))

	run, err := p.tracker.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "cancelled")

	_, held := p.locker.Holder("tenders")
	assert.False(t, held)
}

func TestSyncService_Run_CancelStopsAfterCommittedChunk(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(6, `{"id":1}`, `{"id":2}`)).
		page(1, body(6, `{"id":3}`, `{"id":4}`)).
		page(2, body(6, `{"id":5}`, `{"id":6}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPipeline(t, cfg, up, func(s driven.EntityStore) driven.EntityStore {
		return &flakyEntityStore{EntityStore: s, onApply: cancel}
	})

	report, err := p.sync.Run(ctx, driving.SyncOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Equal(t, 2, report.Counters.New)
	assert.Equal(t, 2, p.entityCount(t))
	assert.Zero(t, up.callsFor(1))
}

func TestSyncService_Run_Limit(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(6, `{"id":1}`, `{"id":2}`)).
		page(1, body(6, `{"id":3}`, `{"id":4}`)).
		page(2, body(6, `{"id":5}`, `{"id":6}`))
	p := newPipeline(t, cfg, up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, 3, report.Counters.New)
	assert.Equal(t, 3, p.entityCount(t))
	assert.Zero(t, up.callsFor(2))
}

func TestSyncService_Run_BatchSizeOverride(t *testing.T) {
	up := newFakeUpstream().
		page(0, body(6, `{"id":1}`, `{"id":2}`)).
		page(1, body(6, `{"id":3}`, `{"id":4}`)).
		page(2, body(6, `{"id":5}`, `{"id":6}`))
	p := newPipeline(t, testConfig(), up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 6, report.Counters.New)
}

func TestSyncService_Run_DuplicateKeyInChunkLaterWins(t *testing.T) {
	up := newFakeUpstream().
		page(0, body(4, `{"id":1,"title":"old"}`, `{"id":2,"title":"B"}`)).
		page(1, body(4, `{"id":1,"title":"new"}`, `{"id":3,"title":"C"}`))
	p := newPipeline(t, testConfig(), up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.Counters{New: 3, Pages: 2}, report.Counters)
	assert.Equal(t, "new", p.entity(t, "1").Fields["title"])
}

func TestSyncService_Run_RecycledKeyAcrossChunks(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(4, `{"id":1,"title":"old"}`, `{"id":2,"title":"B"}`)).
		page(1, body(4, `{"id":1,"title":"new"}`, `{"id":3,"title":"C"}`))
	p := newPipeline(t, cfg, up, nil)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Counters.New)
	assert.Equal(t, 1, report.Counters.Updated)
	assert.Equal(t, "new", p.entity(t, "1").Fields["title"])
}

func TestSyncService_Status(t *testing.T) {
	var during *driving.SyncStatus
	var p *pipeline
	p = newPipeline(t, testConfig(), threeRecordUpstream(), func(s driven.EntityStore) driven.EntityStore {
		return &flakyEntityStore{EntityStore: s, onApply: func() {
			during, _ = p.sync.Status(context.Background())
		}}
	})

	before, err := p.sync.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, before.Running)
	assert.Equal(t, "tenders", before.Dataset)

	report, err := p.sync.Run(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	require.NotNil(t, during)
	assert.True(t, during.Running)
	assert.Equal(t, report.RunID, during.RunID)

	after, err := p.sync.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, after.Running)
}

func TestSyncService_Preview_HasNoSideEffects(t *testing.T) {
	up := newFakeUpstream().page(0, body(2,
		`{"id":42,"title":"Road works","status":"approved"}`,
		`{"id":99,"title":"Bridge","status":"open"}`))
	p := newPipeline(t, testConfig(), up, nil)
	p.seed(t, domain.Fields{"id": 42, "title": "Road works", "status": "pending_review"})
	ctx := context.Background()

	// Preview takes no lock.
	lock, err := p.locker.Acquire(ctx, "tenders", "someone-else")
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	report, err := p.sync.Preview(ctx, driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.PreviewCounters{New: 1, Updated: 1, Unchanged: 0, Total: 2}, report.Counters)
	require.Len(t, report.NewItems, 1)
	assert.Equal(t, "99", report.NewItems[0].ID)
	require.Len(t, report.UpdatedItems, 1)
	assert.Equal(t, "42", report.UpdatedItems[0].ID)
	assert.Equal(t, []domain.FieldChange{{Field: "status", Old: "pending_review", New: "approved"}},
		report.UpdatedItems[0].ChangedFields)

	assert.Zero(t, p.snapshotCount(t))
	assert.Equal(t, 1, p.entityCount(t))
	assert.Equal(t, "pending_review", p.entity(t, "42").Fields["status"])
	runs, err := p.tracker.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSyncService_Preview_RecycledKeysUseVirtualState(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ChunkPages = 1
	up := newFakeUpstream().
		page(0, body(4, `{"id":1,"title":"A"}`, `{"id":2,"title":"B"}`)).
		page(1, body(4, `{"id":1,"title":"A2"}`, `{"id":2,"title":"B"}`))
	p := newPipeline(t, cfg, up, nil)

	report, err := p.sync.Preview(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.PreviewCounters{New: 2, Updated: 1, Unchanged: 1, Total: 4}, report.Counters)
	assert.Zero(t, p.entityCount(t))
}

func TestSyncService_Preview_ReportsFetchFailure(t *testing.T) {
	up := newFakeUpstream().failNext(0, httpStatusErr{404})
	p := newPipeline(t, testConfig(), up, nil)

	_, err := p.sync.Preview(context.Background(), driving.SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrFetchAborted)
	assert.Zero(t, p.snapshotCount(t))
}

func TestSyncService_Preview_UnchangedDatasetHasEmptyItemLists(t *testing.T) {
	up := newFakeUpstream().page(0, body(1, `{"id":42,"title":"Road works"}`))
	p := newPipeline(t, testConfig(), up, nil)
	p.seed(t, domain.Fields{"id": 42, "title": "Road works"})

	report, err := p.sync.Preview(context.Background(), driving.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.PreviewCounters{Unchanged: 1, Total: 1}, report.Counters)
	assert.NotNil(t, report.NewItems)
	assert.NotNil(t, report.UpdatedItems)
	assert.Empty(t, report.NewItems)
	assert.Empty(t, report.UpdatedItems)
}
