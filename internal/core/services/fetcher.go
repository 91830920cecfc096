package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/logger"
)

// FetchedPage is one page handed to the checkpoint processor.
// Its snapshot is already durable when the page is returned.
type FetchedPage struct {
	// Index is the zero-based page index.
	Index int

	// SnapshotID links the page to its raw audit row.
	SnapshotID string

	// Records are the decoded records in payload order.
	Records []domain.Fields

	// DecodeErr is set when the payload did not match the expected shape.
	DecodeErr error

	total    *int
	lastPage int
}

// FetchAbortedError stops a page stream after retries were exhausted.
// Pages before the failed one have been returned; nothing after it is.
type FetchAbortedError struct {
	Page int
	Err  error
}

func (e *FetchAbortedError) Error() string {
	return fmt.Sprintf("fetch aborted at page %d: %v", e.Page, e.Err)
}

// Unwrap exposes both the cause and the domain sentinel.
func (e *FetchAbortedError) Unwrap() []error {
	return []error{domain.ErrFetchAborted, e.Err}
}

// Fetcher pages through the upstream listing.
type Fetcher struct {
	client  driven.PageClient
	decoder driven.PageDecoder
	dataset string
	cfg     domain.FetchConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher for one dataset.
func NewFetcher(client driven.PageClient, decoder driven.PageDecoder, dataset string, cfg domain.FetchConfig) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &Fetcher{
		client:  client,
		decoder: decoder,
		dataset: dataset,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Stream starts a lazy, single-use page sequence. Every page request is
// recorded through recorder before the stream decides whether to continue.
func (f *Fetcher) Stream(runID string, recorder driven.SnapshotRecorder) *PageStream {
	return &PageStream{
		f:        f,
		runID:    runID,
		recorder: recorder,
		bound:    -1,
	}
}

// PageStream yields pages in chunks. It terminates exactly once, either at
// the end of data or with a *FetchAbortedError, and cannot be restarted.
type PageStream struct {
	f        *Fetcher
	runID    string
	recorder driven.SnapshotRecorder

	started bool
	next    int
	bound   int // total pages from the upstream hint, -1 if unknown
	done    bool
}

// Done reports whether the stream has terminated.
func (s *PageStream) Done() bool {
	return s.done
}

// Bound returns the page bound derived from page 1, or -1 if there was none.
func (s *PageStream) Bound() int {
	return s.bound
}

// NextChunk returns up to n further pages. A non-nil error terminates the
// stream; the pages returned with it are the contiguous good prefix.
// After termination NextChunk returns nil, nil.
func (s *PageStream) NextChunk(ctx context.Context, n int) ([]FetchedPage, error) {
	if s.done {
		return nil, nil
	}
	if n <= 0 {
		n = 1
	}

	var pages []FetchedPage

	if !s.started {
		s.started = true
		first, stop, err := s.bootstrap(ctx)
		if first != nil {
			pages = append(pages, *first)
		}
		if err != nil || stop {
			s.done = true
			return pages, err
		}
	}

	for len(pages) < n && !s.done {
		limit := s.limit()
		if limit >= 0 && s.next >= limit {
			s.finish()
			break
		}

		if s.bound >= 0 {
			want := n - len(pages)
			if limit >= 0 && limit-s.next < want {
				want = limit - s.next
			}
			batch, err := s.fetchParallel(ctx, s.next, want)
			pages = append(pages, batch...)
			s.next += len(batch)
			if err != nil {
				s.done = true
				return pages, err
			}
			continue
		}

		page, err := s.f.fetchOne(ctx, s.runID, s.recorder, s.next)
		if err != nil {
			s.done = true
			return pages, err
		}
		s.next++
		if page.DecodeErr != nil {
			pages = append(pages, page)
			s.done = true
			return pages, &FetchAbortedError{Page: page.Index, Err: page.DecodeErr}
		}
		if len(page.Records) == 0 {
			logger.Debug("Page %d empty, end of data", page.Index)
			s.done = true
			break
		}
		pages = append(pages, page)
	}

	return pages, nil
}

// bootstrap fetches page 1 alone and derives the termination bound.
func (s *PageStream) bootstrap(ctx context.Context) (*FetchedPage, bool, error) {
	page, err := s.f.fetchOne(ctx, s.runID, s.recorder, 0)
	if err != nil {
		return nil, true, err
	}
	s.next = 1

	switch {
	case page.total != nil:
		pages := (*page.total + s.f.cfg.PageSize - 1) / s.f.cfg.PageSize
		s.bound = max(pages, 1)
		logger.Debug("Total-count hint %d, bound %d pages", *page.total, s.bound)
	case page.lastPage >= 0:
		s.bound = page.lastPage + 1
		logger.Debug("Link header bound %d pages", s.bound)
	default:
		logger.Warn("No total-count hint for %s; stopping on the first empty page", s.f.dataset)
	}

	if page.DecodeErr != nil {
		if s.bound < 0 {
			return &page, true, &FetchAbortedError{Page: 0, Err: page.DecodeErr}
		}
		return &page, false, nil
	}

	if s.bound < 0 && len(page.Records) == 0 {
		return nil, true, nil
	}
	return &page, false, nil
}

// limit is the effective page bound including the configured hard cap.
func (s *PageStream) limit() int {
	limit := s.bound
	if c := s.f.cfg.MaxPages; c > 0 && (limit < 0 || limit > c) {
		limit = c
	}
	return limit
}

func (s *PageStream) finish() {
	if s.bound < 0 || (s.f.cfg.MaxPages > 0 && s.f.cfg.MaxPages < s.bound) {
		logger.Warn("Stopped at max_pages=%d for %s", s.f.cfg.MaxPages, s.f.dataset)
	}
	s.done = true
}

// fetchParallel fetches count pages starting at from on a bounded pool and
// returns them in order, truncated at the first failure.
func (s *PageStream) fetchParallel(ctx context.Context, from, count int) ([]FetchedPage, error) {
	results := make([]FetchedPage, count)
	errs := make([]error, count)

	var g errgroup.Group
	g.SetLimit(s.f.cfg.Workers)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			results[i], errs[i] = s.f.fetchOne(ctx, s.runID, s.recorder, from+i)
			return nil
		})
	}
	_ = g.Wait()

	for i := 0; i < count; i++ {
		if errs[i] != nil {
			return results[:i], errs[i]
		}
		if len(results[i].Records) == 0 && results[i].DecodeErr == nil {
			logger.Warn("Page %d inside the advertised bound is empty", from+i)
		}
	}
	return results, nil
}

// fetchOne requests one page with retries, records its snapshot and decodes it.
func (f *Fetcher) fetchOne(ctx context.Context, runID string, recorder driven.SnapshotRecorder, index int) (FetchedPage, error) {
	req := driven.PageRequest{Page: index, PageSize: f.cfg.PageSize}

	var (
		resp     *driven.PageResponse
		err      error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		resp, err = f.client.FetchPage(ctx, req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return FetchedPage{}, &FetchAbortedError{Page: index, Err: ctx.Err()}
		}
		if !isTransient(err) || attempts >= f.cfg.RetryAttempts {
			break
		}
		delay := f.backoff(attempts, err)
		logger.Debug("Page %d attempt %d failed: %v; retrying in %s", index, attempts, err, delay)
		if serr := f.sleep(ctx, delay); serr != nil {
			return FetchedPage{}, &FetchAbortedError{Page: index, Err: serr}
		}
	}

	snap := &domain.SourceSnapshot{
		ID:        uuid.New().String(),
		RunID:     runID,
		Dataset:   f.dataset,
		Origin:    f.client.PageURL(req),
		PageIndex: index,
		FetchedAt: f.now().UTC(),
		Attempts:  attempts,
	}
	if resp != nil {
		snap.Origin = resp.URL
		snap.StatusCode = resp.StatusCode
		snap.Payload = resp.Body
	}

	if err != nil {
		snap.Error = err.Error()
		if rerr := recorder.Record(ctx, snap); rerr != nil {
			err = errors.Join(err, fmt.Errorf("record snapshot: %w", rerr))
		}
		logger.Warn("Page %d failed after %d attempts: %v", index, attempts, err)
		return FetchedPage{}, &FetchAbortedError{Page: index, Err: err}
	}

	page := FetchedPage{Index: index, SnapshotID: snap.ID, lastPage: resp.LastPage}
	decoded, derr := f.decoder.Decode(resp.Body)
	if derr != nil {
		snap.Error = derr.Error()
		page.DecodeErr = derr
		logger.Warn("Page %d payload rejected: %v", index, derr)
	} else {
		page.Records = decoded.Records
		page.total = decoded.TotalCount
	}

	if rerr := recorder.Record(ctx, snap); rerr != nil {
		return FetchedPage{}, &FetchAbortedError{Page: index, Err: fmt.Errorf("record snapshot: %w", rerr)}
	}
	return page, nil
}

// backoff doubles the base delay per attempt, capped at the maximum.
// A longer Retry-After hint from a 429 wins, within the same cap.
func (f *Fetcher) backoff(attempt int, err error) time.Duration {
	delay := f.cfg.RetryBaseDelay.Duration
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	var hinted interface{ RetryAfterHint() time.Duration }
	if errors.As(err, &hinted) && hinted.RetryAfterHint() > delay {
		delay = hinted.RetryAfterHint()
	}

	if maxDelay := f.cfg.RetryMaxDelay.Duration; maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// isTransient reports whether a failed request is worth retrying:
// transport errors, timeouts, 429 and 5xx.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status domain.StatusError
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// discardRecorder drops snapshots; preview runs have no side effects.
type discardRecorder struct{}

func (discardRecorder) Record(context.Context, *domain.SourceSnapshot) error { return nil }
