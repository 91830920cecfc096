package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
	"github.com/custodia-labs/harvest/internal/logger"
)

// Ensure ProcessingService implements the interface.
var _ driving.ProcessingService = (*ProcessingService)(nil)

// discoveryPageSize is the number of entities scanned per store query
// while looking for unprocessed documents.
const discoveryPageSize = 200

// ProcessingService runs per-item downstream work (fetch a document, parse
// it) and owns the attempt rows that make failures resettable by type.
type ProcessingService struct {
	dataset  string
	cfg      domain.ProcessingConfig
	entities driven.EntityStore
	attempts driven.AttemptStore
	source   driven.DocumentSource
	parsers  driven.ParserRegistry
	now      func() time.Time
}

// NewProcessingService creates the processing service for the configured dataset.
func NewProcessingService(
	cfg *domain.Config,
	entities driven.EntityStore,
	attempts driven.AttemptStore,
	source driven.DocumentSource,
	parsers driven.ParserRegistry,
) *ProcessingService {
	return &ProcessingService{
		dataset:  cfg.Dataset,
		cfg:      cfg.Processing,
		entities: entities,
		attempts: attempts,
		source:   source,
		parsers:  parsers,
		now:      time.Now,
	}
}

// RecordAttempt stores one attempt outcome. Dataset, task and time default
// to the service's own when empty.
func (p *ProcessingService) RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	if rec.Dataset == "" {
		rec.Dataset = p.dataset
	}
	if rec.Task == "" {
		rec.Task = p.cfg.Task
	}
	if rec.At.IsZero() {
		rec.At = p.now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("attempt %s: %w", rec.ItemID, err)
	}
	return p.attempts.Record(ctx, rec)
}

// Pending returns items waiting to be attempted.
func (p *ProcessingService) Pending(ctx context.Context, limit int) ([]domain.ProcessingAttempt, error) {
	return p.attempts.List(ctx, domain.AttemptFilter{
		Dataset: p.dataset,
		Status:  domain.AttemptPending,
		Limit:   limit,
	})
}

// ByErrorType returns failed items carrying the given type.
func (p *ProcessingService) ByErrorType(ctx context.Context, errType domain.ErrorType, limit int) ([]domain.ProcessingAttempt, error) {
	if !errType.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownErrorType, errType)
	}
	return p.attempts.List(ctx, domain.AttemptFilter{
		Dataset:   p.dataset,
		Status:    domain.AttemptError,
		ErrorType: errType,
		Limit:     limit,
	})
}

// Reset moves the given items back to pending.
func (p *ProcessingService) Reset(ctx context.Context, itemIDs []string) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	n, err := p.attempts.Reset(ctx, itemIDs)
	if err != nil {
		return 0, fmt.Errorf("reset attempts: %w", err)
	}
	logger.Info("Reset %d of %d items to pending", n, len(itemIDs))
	return n, nil
}

// ResetByErrorType moves only failed items of the given type back to pending.
func (p *ProcessingService) ResetByErrorType(ctx context.Context, errType domain.ErrorType) (int, error) {
	if !errType.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownErrorType, errType)
	}
	n, err := p.attempts.ResetByErrorType(ctx, p.dataset, errType)
	if err != nil {
		return 0, fmt.Errorf("reset %s attempts: %w", errType, err)
	}
	logger.Info("Reset %d %s items to pending", n, errType)
	return n, nil
}

// Summary aggregates attempts by status and failures by type.
func (p *ProcessingService) Summary(ctx context.Context) (*driving.ProcessingSummary, error) {
	stats, err := p.attempts.Stats(ctx, p.dataset)
	if err != nil {
		return nil, fmt.Errorf("attempt stats: %w", err)
	}
	counts, err := p.attempts.CountByErrorType(ctx, p.dataset)
	if err != nil {
		return nil, fmt.Errorf("count by error type: %w", err)
	}
	return &driving.ProcessingSummary{Stats: stats, Errors: counts}, nil
}

// workItem is one document to fetch and parse.
type workItem struct {
	itemID string
	key    string
	url    string
	mime   string
}

// Process attempts a bounded sample of outstanding items: pending attempts
// first, then entities whose latest document has never been attempted.
// Failed items are not retried until they are reset.
func (p *ProcessingService) Process(ctx context.Context, opts driving.ProcessOptions) (*driving.ProcessReport, error) {
	limit := p.cfg.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	workers := max(p.cfg.Workers, 1)
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	items, err := p.discover(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &driving.ProcessReport{ByErrorType: make(map[domain.ErrorType]int)}
	if len(items) == 0 {
		logger.Info("No documents to process for %s", p.dataset)
		return report, nil
	}
	logger.Info("Processing %d documents with %d workers", len(items), workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec := p.attempt(gctx, it)
			if gctx.Err() != nil {
				// Cancelled mid-item: leave the row as it was.
				return nil
			}
			if err := p.RecordAttempt(gctx, rec); err != nil {
				return fmt.Errorf("record attempt %s: %w", it.itemID, err)
			}

			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			if rec.Status == domain.AttemptSuccess {
				report.Succeeded++
			} else {
				report.Failed++
				report.ByErrorType[rec.ErrorType]++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// attempt fetches and parses one document under the per-item timeout.
// Every failure is classified into the vocabulary.
func (p *ProcessingService) attempt(ctx context.Context, it workItem) domain.AttemptRecord {
	rec := domain.AttemptRecord{
		ItemID:      it.itemID,
		Dataset:     p.dataset,
		EntityKey:   it.key,
		Task:        p.cfg.Task,
		DocumentURL: it.url,
	}

	itemCtx := ctx
	if timeout := p.cfg.ItemTimeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fail := func(t domain.ErrorType, msg string) domain.AttemptRecord {
		if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			t = domain.ErrorTypeTimeout
		}
		if !t.IsValid() {
			t = domain.ErrorTypeTransient
		}
		rec.Status = domain.AttemptError
		rec.ErrorType = t
		rec.ErrorMessage = msg
		logger.Debug("Item %s failed: %s: %s", it.itemID, t, msg)
		return rec
	}

	doc, err := p.source.Fetch(itemCtx, it.url)
	if err != nil {
		return fail(domain.ClassifyError(err), err.Error())
	}
	doc.EntityKey = it.key
	if it.mime != "" && (doc.MIMEType == "" || doc.MIMEType == "application/octet-stream") {
		doc.MIMEType = it.mime
	}
	if len(doc.Content) == 0 {
		return fail(domain.ErrorTypeEmptyDocument, "document body is empty")
	}

	switch res := p.parsers.Parse(itemCtx, doc).(type) {
	case domain.ParseSuccess:
		rec.Status = domain.AttemptSuccess
		rec.Output = res.Fields
		return rec
	case domain.ParseFailure:
		return fail(res.Type, res.Message)
	default:
		return fail(domain.ErrorTypeTransient, fmt.Sprintf("unexpected parse result %T", res))
	}
}

// discover collects up to limit work items. Pending attempts come first;
// then entities are scanned in key order for documents with no attempt row.
func (p *ProcessingService) discover(ctx context.Context, limit int) ([]workItem, error) {
	full := func(n int) bool { return limit > 0 && n >= limit }

	// Pending rows are listed unbounded: rows with no resolvable URL are
	// skipped and must not use up the limit.
	pending, err := p.attempts.List(ctx, domain.AttemptFilter{
		Dataset: p.dataset,
		Task:    p.cfg.Task,
		Status:  domain.AttemptPending,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending attempts: %w", err)
	}

	seen := make(map[string]struct{})
	items := make([]workItem, 0, len(pending))
	for i := range pending {
		if full(len(items)) {
			break
		}
		it, ok, err := p.pendingItem(ctx, &pending[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seen[it.itemID] = struct{}{}
		items = append(items, it)
	}

	for offset := 0; !full(len(items)); offset += discoveryPageSize {
		entities, err := p.entities.List(ctx, p.dataset, discoveryPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		if len(entities) == 0 {
			break
		}

		var candidates []workItem
		ids := make([]string, 0, len(entities))
		for i := range entities {
			it, ok := p.workItemFor(&entities[i])
			if !ok {
				continue
			}
			if _, dup := seen[it.itemID]; dup {
				continue
			}
			candidates = append(candidates, it)
			ids = append(ids, it.itemID)
		}

		existing, err := p.attempts.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load attempts: %w", err)
		}
		for _, it := range candidates {
			if _, done := existing[it.itemID]; done {
				continue
			}
			seen[it.itemID] = struct{}{}
			items = append(items, it)
			if full(len(items)) {
				break
			}
		}

		if len(entities) < discoveryPageSize {
			break
		}
	}
	return items, nil
}

// pendingItem turns a pending attempt into work. An attempt recorded
// without a URL takes it from its entity's latest document, provided that
// document is still the attempted item.
func (p *ProcessingService) pendingItem(ctx context.Context, a *domain.ProcessingAttempt) (workItem, bool, error) {
	if a.DocumentURL != "" {
		return workItem{itemID: a.ItemID, key: a.EntityKey, url: a.DocumentURL}, true, nil
	}
	if a.EntityKey == "" {
		logger.Debug("Pending attempt %s has no document URL or entity", a.ItemID)
		return workItem{}, false, nil
	}
	e, err := p.entities.Get(ctx, p.dataset, a.EntityKey)
	if errors.Is(err, domain.ErrNotFound) {
		return workItem{}, false, nil
	}
	if err != nil {
		return workItem{}, false, fmt.Errorf("resolve pending attempt %s: %w", a.ItemID, err)
	}
	it, ok := p.workItemFor(e)
	if !ok || it.itemID != a.ItemID {
		logger.Debug("Pending attempt %s no longer matches a document of %s", a.ItemID, a.EntityKey)
		return workItem{}, false, nil
	}
	return it, true, nil
}

// workItemFor resolves the latest document of an entity.
func (p *ProcessingService) workItemFor(e *domain.Entity) (workItem, bool) {
	raw, ok := domain.LookupPath(map[string]any(e.Fields), p.cfg.DocumentsField)
	if !ok || raw == nil {
		return workItem{}, false
	}
	versions := p.documentVersions(raw)
	latest, ok := domain.LatestVersion(versions)
	if !ok || latest.URL == "" {
		return workItem{}, false
	}
	return workItem{
		itemID: ItemID(p.cfg.Task, e.Dataset, e.Key, latest),
		key:    e.Key,
		url:    latest.URL,
		mime:   latest.MIMEType,
	}, true
}

// documentVersions reads a document reference that may be a URL string,
// one object, or an array of either.
func (p *ProcessingService) documentVersions(raw any) []domain.DocumentVersion {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []domain.DocumentVersion{{URL: v}}
	case map[string]any:
		if dv, ok := p.versionFromObject(v); ok {
			return []domain.DocumentVersion{dv}
		}
		return nil
	case domain.Fields:
		return p.documentVersions(map[string]any(v))
	case []any:
		var out []domain.DocumentVersion
		for _, elem := range v {
			out = append(out, p.documentVersions(elem)...)
		}
		return out
	default:
		return nil
	}
}

func (p *ProcessingService) versionFromObject(m map[string]any) (domain.DocumentVersion, bool) {
	url, _ := m[p.cfg.URLField].(string)
	if url == "" {
		return domain.DocumentVersion{}, false
	}
	dv := domain.DocumentVersion{
		ID:  domain.KeyString(m[p.cfg.IDField]),
		URL: url,
	}
	if mime, ok := m[p.cfg.MIMEField].(string); ok {
		dv.MIMEType = mime
	}
	if created, ok := m[p.cfg.CreatedField].(string); ok {
		dv.CreatedAt = parseVersionTime(created)
	}
	return dv, true
}

var versionTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// parseVersionTime returns the zero time for unparseable input so that
// undated versions sort before dated ones.
func parseVersionTime(s string) time.Time {
	for _, layout := range versionTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ItemID derives the stable identity of one unit of downstream work.
// A new document version yields a new item.
func ItemID(task, dataset, key string, v domain.DocumentVersion) string {
	version := v.ID
	if version == "" {
		version = v.URL
	}
	return fmt.Sprintf("%s:%s:%s@%s", task, dataset, key, version)
}
