package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
	"github.com/custodia-labs/harvest/internal/logger"
)

// Ensure SyncService implements the interface.
var _ driving.SyncService = (*SyncService)(nil)

// SyncService drives the fetcher in chunks and commits each chunk as one
// checkpoint: snapshots first, then classification, then one atomic write.
type SyncService struct {
	dataset    string
	keyField   string
	chunkPages int
	limit      int

	fetcher   *Fetcher
	detector  *ChangeDetector
	snapshots driven.SnapshotRecorder
	entities  driven.EntityStore
	runs      driving.RunTracker
	locker    driven.RunLocker

	owner string
	now   func() time.Time

	mu     sync.RWMutex
	active *domain.PipelineRun
}

// NewSyncService creates the sync service for the configured dataset.
func NewSyncService(
	cfg *domain.Config,
	fetcher *Fetcher,
	detector *ChangeDetector,
	snapshots driven.SnapshotRecorder,
	entities driven.EntityStore,
	runs driving.RunTracker,
	locker driven.RunLocker,
) *SyncService {
	host, _ := os.Hostname()
	return &SyncService{
		dataset:    cfg.Dataset,
		keyField:   cfg.Upstream.KeyField,
		chunkPages: max(cfg.Sync.ChunkPages, 1),
		limit:      cfg.Sync.Limit,
		fetcher:    fetcher,
		detector:   detector,
		snapshots:  snapshots,
		entities:   entities,
		runs:       runs,
		locker:     locker,
		owner:      fmt.Sprintf("%s:%d", host, os.Getpid()),
		now:        time.Now,
	}
}

// Run synchronises the dataset under its run lock. Chunk failures are
// recorded and skipped; a fetch failure or cancellation fails the run.
// The report is returned even when the run failed.
//
//nolint:gocognit // Checkpoint loop with sequential steps
func (s *SyncService) Run(ctx context.Context, opts driving.SyncOptions) (*driving.SyncReport, error) {
	lock, err := s.locker.Acquire(ctx, s.dataset, s.owner)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Release run lock for %s: %v", s.dataset, err)
		}
	}()

	run, err := s.runs.Start(ctx, s.dataset)
	if err != nil {
		return nil, err
	}
	s.setActive(run)
	defer s.setActive(nil)

	logger.Section("Sync " + s.dataset)
	logger.L().Info().Str("run_id", run.ID).Str("dataset", s.dataset).Msg("run started")

	chunkPages := s.chunkPages
	if opts.BatchSize > 0 {
		chunkPages = opts.BatchSize
	}
	budget := newBudget(s.limit, opts.Limit)

	report := &driving.SyncReport{RunID: run.ID, Dataset: s.dataset, StartedAt: run.StartedAt}
	stream := s.fetcher.Stream(run.ID, s.snapshots)

	var chunkErrs []error
	var fatal error

	for !stream.Done() && !budget.exhausted() {
		if err := ctx.Err(); err != nil {
			fatal = fmt.Errorf("cancelled: %w", err)
			break
		}

		pages, fetchErr := stream.NextChunk(ctx, chunkPages)
		if len(pages) > 0 {
			if err := ctx.Err(); err != nil {
				fatal = fmt.Errorf("cancelled before chunk %d commit: %w", report.Chunks+1, err)
				break
			}
			report.Chunks++
			counters, cerr := s.commitChunk(ctx, run.ID, report.Chunks, pages, budget)
			run.Counters.Merge(counters)
			if cerr != nil {
				if ctx.Err() != nil {
					fatal = fmt.Errorf("cancelled during chunk %d: %w", report.Chunks, ctx.Err())
					break
				}
				chunkErrs = append(chunkErrs, cerr)
				logger.Warn("%v", cerr)
			}
			s.checkpoint(ctx, run)
		}
		if fetchErr != nil {
			fatal = fetchErr
			break
		}
	}

	status := domain.RunCompleted
	if fatal != nil {
		status = domain.RunFailed
	}
	runErr := errors.Join(append(chunkErrs, fatal)...)
	if ferr := s.runs.Finish(context.WithoutCancel(ctx), run, status, runErr); ferr != nil {
		logger.Error("Finish run %s: %v", run.ID, ferr)
	}

	report.Status = status
	report.Counters = run.Counters
	report.FinishedAt = s.now().UTC()
	for _, e := range chunkErrs {
		report.Errors = append(report.Errors, e.Error())
	}
	if fatal != nil {
		report.Errors = append(report.Errors, fatal.Error())
	}

	logger.L().Info().Str("run_id", run.ID).Str("status", string(status)).
		Int("new", run.Counters.New).Int("updated", run.Counters.Updated).
		Int("unchanged", run.Counters.Unchanged).Int("failed", run.Counters.Failed).
		Msg("run finished")

	if fatal != nil {
		return report, fmt.Errorf("run %s failed: %w", run.ID, fatal)
	}
	return report, nil
}

// commitChunk classifies one chunk and applies its writes atomically.
// On a write failure no classification of the chunk is counted and every
// classified record counts as failed.
func (s *SyncService) commitChunk(ctx context.Context, runID string, n int, pages []FetchedPage, budget *budget) (domain.Counters, error) {
	counters := domain.Counters{Pages: len(pages)}

	records, problems := s.extract(pages, budget)
	counters.Failed += problems.failed
	var problemErr error
	if len(problems.notes) > 0 {
		problemErr = fmt.Errorf("chunk %d: %s", n, joinNotes(problems.notes))
	}

	if len(records) == 0 {
		return counters, problemErr
	}

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	existing, err := s.entities.Lookup(ctx, s.dataset, keys)
	if err != nil {
		counters.Failed += len(records)
		counters.ChunksFailed++
		return counters, errors.Join(problemErr, fmt.Errorf("chunk %d: lookup: %w", n, err))
	}

	var classified domain.Counters
	writes := make([]domain.EntityWrite, 0, len(records))
	for _, r := range records {
		var stored domain.Fields
		if e, ok := existing[r.Key]; ok {
			stored = e.Fields
			if stored == nil {
				stored = domain.Fields{}
			}
		}
		cs := s.detector.Classify(r.Fields, stored)
		classified.Add(cs.Kind)
		switch cs.Kind {
		case domain.ChangeNew, domain.ChangeUpdated:
			writes = append(writes, domain.EntityWrite{Key: r.Key, Kind: cs.Kind, Fields: r.Fields, Changes: cs.Changes})
		}
	}

	if err := ctx.Err(); err != nil {
		return counters, err
	}

	if len(writes) > 0 {
		if err := s.entities.Apply(ctx, s.dataset, runID, writes, s.now().UTC()); err != nil {
			counters.Failed += len(records)
			counters.ChunksFailed++
			first, last := pages[0].Index, pages[len(pages)-1].Index
			return counters, errors.Join(problemErr,
				fmt.Errorf("chunk %d (pages %d-%d): apply: %w", n, first, last, err))
		}
	}

	counters.Merge(classified)
	logger.Debug("Chunk %d committed: %d new, %d updated, %d unchanged",
		n, classified.New, classified.Updated, classified.Unchanged)
	return counters, problemErr
}

// extractProblems collects per-record failures of one chunk.
type extractProblems struct {
	failed int
	notes  []string
}

// extract turns page records into keyed records. Records without an
// identity key fail and are attributed to their snapshot. When a key
// repeats inside the chunk the later position wins.
func (s *SyncService) extract(pages []FetchedPage, budget *budget) ([]domain.Record, extractProblems) {
	var problems extractProblems
	index := make(map[string]int)
	var out []domain.Record

	for _, page := range pages {
		if page.DecodeErr != nil {
			problems.notes = append(problems.notes,
				fmt.Sprintf("page %d (snapshot %s): %v", page.Index, page.SnapshotID, page.DecodeErr))
			continue
		}
		for pos, fields := range page.Records {
			raw, _ := domain.LookupPath(map[string]any(fields), s.keyField)
			key := domain.KeyString(raw)
			if key == "" {
				problems.failed++
				problems.notes = append(problems.notes,
					fmt.Sprintf("page %d record %d (snapshot %s): %v", page.Index, pos, page.SnapshotID, domain.ErrMissingIdentity))
				continue
			}
			rec := domain.Record{Key: key, Fields: fields, SnapshotID: page.SnapshotID, PageIndex: page.Index, Position: pos}
			if i, dup := index[key]; dup {
				out[i] = rec
				continue
			}
			if !budget.take() {
				return out, problems
			}
			index[key] = len(out)
			out = append(out, rec)
		}
	}
	return out, problems
}

func (s *SyncService) checkpoint(ctx context.Context, run *domain.PipelineRun) {
	s.setActive(run)
	if err := s.runs.Checkpoint(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Checkpoint run %s: %v", run.ID, err)
	}
}

// Preview classifies the upstream dataset with no writes, no snapshots,
// no run row and no lock. Records seen earlier in the preview are
// classified against the preview's own virtual state.
func (s *SyncService) Preview(ctx context.Context, opts driving.SyncOptions) (*domain.PreviewReport, error) {
	chunkPages := s.chunkPages
	if opts.BatchSize > 0 {
		chunkPages = opts.BatchSize
	}
	budget := newBudget(s.limit, opts.Limit)

	report := domain.NewPreviewReport()
	overlay := make(map[string]domain.Fields)
	stream := s.fetcher.Stream("", discardRecorder{})

	for !stream.Done() && !budget.exhausted() {
		pages, fetchErr := stream.NextChunk(ctx, chunkPages)
		records, problems := s.extract(pages, budget)
		report.Failed += problems.failed
		for _, note := range problems.notes {
			logger.Warn("Preview: %s", note)
		}

		var missing []string
		for _, r := range records {
			if _, ok := overlay[r.Key]; !ok {
				missing = append(missing, r.Key)
			}
		}
		stored := map[string]*domain.Entity{}
		if len(missing) > 0 {
			var err error
			stored, err = s.entities.Lookup(ctx, s.dataset, missing)
			if err != nil {
				return report, fmt.Errorf("preview lookup: %w", err)
			}
		}

		for _, r := range records {
			existing, ok := overlay[r.Key]
			if !ok {
				if e, found := stored[r.Key]; found {
					existing = e.Fields
					if existing == nil {
						existing = domain.Fields{}
					}
				}
			}
			cs := s.detector.Classify(r.Fields, existing)
			cs.Key = r.Key
			report.Add(cs, r.Fields)
			if cs.Kind != domain.ChangeUnchanged {
				overlay[r.Key] = r.Fields
			}
		}

		if fetchErr != nil {
			return report, fetchErr
		}
	}
	return report, nil
}

// Status returns the progress of the run in flight, if any.
func (s *SyncService) Status(_ context.Context) (*driving.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &driving.SyncStatus{Dataset: s.dataset}
	if s.active != nil {
		status.Running = true
		status.RunID = s.active.ID
		status.Counters = s.active.Counters
	}
	return status, nil
}

func (s *SyncService) setActive(run *domain.PipelineRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run == nil {
		s.active = nil
		return
	}
	cp := *run
	s.active = &cp
}

// budget caps the number of records classified by one invocation.
type budget struct {
	remaining int // -1 for unlimited
}

func newBudget(configured, override int) *budget {
	limit := configured
	if override > 0 {
		limit = override
	}
	if limit <= 0 {
		return &budget{remaining: -1}
	}
	return &budget{remaining: limit}
}

func (b *budget) take() bool {
	if b.remaining < 0 {
		return true
	}
	if b.remaining == 0 {
		return false
	}
	b.remaining--
	return true
}

func (b *budget) exhausted() bool {
	return b.remaining == 0
}

func joinNotes(notes []string) string {
	const maxNotes = 5
	out := ""
	for i, n := range notes {
		if i == maxNotes {
			return fmt.Sprintf("%s; and %d more", out, len(notes)-maxNotes)
		}
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}
