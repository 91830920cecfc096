package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/harvest/internal/connectors/rest"
	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// --- Fake upstream ---

// fakeUpstream implements driven.PageClient over canned JSON bodies.
type fakeUpstream struct {
	mu       stdsync.Mutex
	pages    map[int]string
	fallback string
	errs     map[int][]error
	calls    map[int]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		pages:    make(map[int]string),
		fallback: `{"data":[]}`,
		errs:     make(map[int][]error),
		calls:    make(map[int]int),
	}
}

// page sets the body served for a zero-based page index.
func (u *fakeUpstream) page(index int, body string) *fakeUpstream {
	u.pages[index] = body
	return u
}

// failNext queues failures returned before the page body is served.
func (u *fakeUpstream) failNext(index int, errs ...error) *fakeUpstream {
	u.errs[index] = append(u.errs[index], errs...)
	return u
}

func (u *fakeUpstream) FetchPage(_ context.Context, req driven.PageRequest) (*driven.PageResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls[req.Page]++
	if queued := u.errs[req.Page]; len(queued) > 0 {
		err := queued[0]
		u.errs[req.Page] = queued[1:]
		var status domain.StatusError
		if errors.As(err, &status) {
			return &driven.PageResponse{URL: u.PageURL(req), StatusCode: status.HTTPStatus(), LastPage: -1}, err
		}
		return nil, err
	}

	body, ok := u.pages[req.Page]
	if !ok {
		body = u.fallback
	}
	return &driven.PageResponse{URL: u.PageURL(req), StatusCode: 200, Body: []byte(body), LastPage: -1}, nil
}

func (u *fakeUpstream) PageURL(req driven.PageRequest) string {
	return fmt.Sprintf("https://upstream.test/items?page=%d&page_size=%d", req.Page+1, req.PageSize)
}

func (u *fakeUpstream) callsFor(index int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[index]
}

func (u *fakeUpstream) totalCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.calls {
		n += c
	}
	return n
}

// body renders a page payload. A negative total omits the hint.
func body(total int, records ...string) string {
	data := "[" + strings.Join(records, ",") + "]"
	if total < 0 {
		return `{"data":` + data + `}`
	}
	return fmt.Sprintf(`{"data":%s,"total":%d}`, data, total)
}

// httpStatusErr is an upstream failure carrying an HTTP status.
type httpStatusErr struct{ code int }

func (e httpStatusErr) Error() string   { return fmt.Sprintf("upstream returned %d", e.code) }
func (e httpStatusErr) HTTPStatus() int { return e.code }

// --- Failing entity store ---

// flakyEntityStore fails the Apply calls whose 1-based number is listed.
type flakyEntityStore struct {
	driven.EntityStore
	mu      stdsync.Mutex
	calls   int
	failOn  map[int]bool
	onApply func()
}

func (s *flakyEntityStore) Apply(ctx context.Context, dataset, runID string, writes []domain.EntityWrite, at time.Time) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.onApply != nil {
		s.onApply()
	}
	if s.failOn[n] {
		return errors.New("disk full")
	}
	return s.EntityStore.Apply(ctx, dataset, runID, writes, at)
}

// --- Pipeline fixture ---

func testConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Dataset = "tenders"
	cfg.Upstream.BaseURL = "https://upstream.test/items"
	cfg.Upstream.RecordsPath = "data"
	cfg.Upstream.TotalPath = "total"
	cfg.Upstream.KeyField = "id"
	cfg.Fetch.PageSize = 2
	cfg.Fetch.Workers = 2
	cfg.Fetch.RetryAttempts = 3
	cfg.Fetch.RetryBaseDelay = domain.Duration{Duration: time.Second}
	cfg.Fetch.RetryMaxDelay = domain.Duration{Duration: 5 * time.Second}
	cfg.Sync.ChunkPages = 2
	cfg.Detector.Fields = []domain.FieldSpec{
		{Name: "title", Kind: domain.FieldText},
		{Name: "status", Kind: domain.FieldText},
		{Name: "amount", Kind: domain.FieldNumber},
		{Name: "deadline", Kind: domain.FieldDate},
	}
	return &cfg
}

type pipeline struct {
	cfg       *domain.Config
	upstream  *fakeUpstream
	fetcher   *Fetcher
	snapshots *memory.SnapshotStore
	store     *memory.EntityStore
	entities  driven.EntityStore
	runStore  *memory.RunStore
	locker    *memory.RunLocker
	tracker   *RunTracker
	sync      *SyncService

	sleepMu stdsync.Mutex
	sleeps  []time.Duration
}

// newPipeline wires a SyncService over memory stores. wrap, if set,
// decorates the entity store.
func newPipeline(t *testing.T, cfg *domain.Config, up *fakeUpstream, wrap func(driven.EntityStore) driven.EntityStore) *pipeline {
	t.Helper()

	p := &pipeline{
		cfg:       cfg,
		upstream:  up,
		snapshots: memory.NewSnapshotStore(),
		store:     memory.NewEntityStore(),
		runStore:  memory.NewRunStore(),
		locker:    memory.NewRunLocker(),
	}
	p.entities = p.store
	if wrap != nil {
		p.entities = wrap(p.store)
	}

	p.fetcher = NewFetcher(up, rest.NewJSONDecoder(cfg.Upstream), cfg.Dataset, cfg.Fetch)
	p.fetcher.sleep = func(_ context.Context, d time.Duration) error {
		p.sleepMu.Lock()
		defer p.sleepMu.Unlock()
		p.sleeps = append(p.sleeps, d)
		return nil
	}

	p.tracker = NewRunTracker(p.runStore)
	p.sync = NewSyncService(cfg, p.fetcher, NewChangeDetector(cfg.Detector),
		p.snapshots, p.entities, p.tracker, p.locker)
	require.NotNil(t, p.sync)
	return p
}

// seed stores entities as if a previous run had inserted them.
func (p *pipeline) seed(t *testing.T, entities ...domain.Fields) {
	t.Helper()
	writes := make([]domain.EntityWrite, 0, len(entities))
	for _, f := range entities {
		raw, _ := f.Get("id")
		writes = append(writes, domain.EntityWrite{Key: domain.KeyString(raw), Kind: domain.ChangeNew, Fields: f})
	}
	require.NoError(t, p.store.Apply(context.Background(), p.cfg.Dataset, "seed-run", writes, time.Now()))
}

func (p *pipeline) entity(t *testing.T, key string) *domain.Entity {
	t.Helper()
	e, err := p.store.Get(context.Background(), p.cfg.Dataset, key)
	require.NoError(t, err)
	return e
}

func (p *pipeline) entityCount(t *testing.T) int {
	t.Helper()
	n, err := p.store.Count(context.Background(), p.cfg.Dataset)
	require.NoError(t, err)
	return n
}

func (p *pipeline) snapshotCount(t *testing.T) int {
	t.Helper()
	n, err := p.snapshots.Count(context.Background(), p.cfg.Dataset)
	require.NoError(t, err)
	return n
}
