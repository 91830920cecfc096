package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
)

// stubSync implements driving.SyncService for testing.
type stubSync struct {
	report     *driving.SyncReport
	runErr     error
	preview    *domain.PreviewReport
	previewErr error
	status     *driving.SyncStatus
	gotOpts    []driving.SyncOptions
	runDelay   time.Duration
}

func (s *stubSync) Run(ctx context.Context, opts driving.SyncOptions) (*driving.SyncReport, error) {
	s.gotOpts = append(s.gotOpts, opts)
	if s.runDelay > 0 {
		select {
		case <-time.After(s.runDelay):
		case <-ctx.Done():
		}
	}
	return s.report, s.runErr
}

func (s *stubSync) Preview(_ context.Context, opts driving.SyncOptions) (*domain.PreviewReport, error) {
	s.gotOpts = append(s.gotOpts, opts)
	return s.preview, s.previewErr
}

func (s *stubSync) Status(context.Context) (*driving.SyncStatus, error) {
	if s.status == nil {
		return &driving.SyncStatus{}, nil
	}
	return s.status, nil
}

// stubProcessing implements driving.ProcessingService for testing.
type stubProcessing struct {
	driving.ProcessingService

	report      *driving.ProcessReport
	processOpts []driving.ProcessOptions
	summary     *driving.ProcessingSummary
	pending     []domain.ProcessingAttempt
	byType      map[domain.ErrorType][]domain.ProcessingAttempt
	resetIDs    []string
	resetType   domain.ErrorType
	resetCount  int
	err         error
}

func (p *stubProcessing) Process(_ context.Context, opts driving.ProcessOptions) (*driving.ProcessReport, error) {
	p.processOpts = append(p.processOpts, opts)
	if p.err != nil {
		return nil, p.err
	}
	if p.report == nil {
		return &driving.ProcessReport{}, nil
	}
	return p.report, nil
}

func (p *stubProcessing) Summary(context.Context) (*driving.ProcessingSummary, error) {
	return p.summary, p.err
}

func (p *stubProcessing) Pending(_ context.Context, limit int) ([]domain.ProcessingAttempt, error) {
	if limit > 0 && len(p.pending) > limit {
		return p.pending[:limit], p.err
	}
	return p.pending, p.err
}

func (p *stubProcessing) ByErrorType(_ context.Context, t domain.ErrorType, _ int) ([]domain.ProcessingAttempt, error) {
	if !t.IsValid() {
		return nil, domain.ErrUnknownErrorType
	}
	return p.byType[t], p.err
}

func (p *stubProcessing) Reset(_ context.Context, ids []string) (int, error) {
	p.resetIDs = ids
	return p.resetCount, p.err
}

func (p *stubProcessing) ResetByErrorType(_ context.Context, t domain.ErrorType) (int, error) {
	if !t.IsValid() {
		return 0, domain.ErrUnknownErrorType
	}
	p.resetType = t
	return p.resetCount, p.err
}

// stubRuns implements driving.RunTracker for testing.
type stubRuns struct {
	driving.RunTracker

	runs      []domain.PipelineRun
	stale     []domain.PipelineRun
	olderThan time.Duration
	listed    string
}

func (r *stubRuns) List(_ context.Context, dataset string, _ int) ([]domain.PipelineRun, error) {
	r.listed = dataset
	return r.runs, nil
}

func (r *stubRuns) Get(_ context.Context, id string) (*domain.PipelineRun, error) {
	for i := range r.runs {
		if r.runs[i].ID == id {
			return &r.runs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubRuns) Stale(_ context.Context, olderThan time.Duration) ([]domain.PipelineRun, error) {
	r.olderThan = olderThan
	return r.stale, nil
}

// stubScheduler implements driving.Scheduler for testing.
type stubScheduler struct {
	tasks   []domain.ScheduledTask
	started bool
	runFor  time.Duration
}

func (s *stubScheduler) Start(ctx context.Context) error {
	s.started = true
	select {
	case <-ctx.Done():
	case <-time.After(s.runFor):
	}
	return nil
}

func (s *stubScheduler) Stop() error { return nil }

func (s *stubScheduler) Tasks(context.Context) ([]domain.ScheduledTask, error) {
	return s.tasks, nil
}

// stubSet bundles the stubs installed for one test.
type stubSet struct {
	sync       *stubSync
	processing *stubProcessing
	runs       *stubRuns
	scheduler  *stubScheduler
}

// setupServices installs stubs, resets flags and restores everything when
// the test ends.
func setupServices(t *testing.T) *stubSet {
	t.Helper()
	s := &stubSet{
		sync:       &stubSync{},
		processing: &stubProcessing{},
		runs:       &stubRuns{},
		scheduler:  &stubScheduler{},
	}

	oldCfg, oldSync, oldProc, oldRuns, oldSched := appConfig, syncService, processingService, runTracker, scheduler
	cfg := domain.DefaultConfig()
	cfg.Dataset = "tenders"
	appConfig = &cfg
	syncService = s.sync
	processingService = s.processing
	runTracker = s.runs
	scheduler = s.scheduler

	resetFlags()
	t.Cleanup(func() {
		appConfig, syncService, processingService, runTracker, scheduler = oldCfg, oldSync, oldProc, oldRuns, oldSched
		resetFlags()
		rootCmd.SetArgs(nil)
	})
	return s
}

func resetFlags() {
	syncBatchSize, syncPreview, syncStage, syncLimit = 0, false, string(driving.StageAll), 0
	attemptsLimit, attemptsErrorType = 50, ""
	runsLimit, runsOlderThan = 20, 0
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}
