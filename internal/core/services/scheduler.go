package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
	"github.com/custodia-labs/harvest/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyKeep is the number of results kept per task.
const historyKeep = 100

// taskNames are the display names of the built-in tasks.
var taskNames = map[string]string{
	domain.TaskIDEntitySync:         "Entity Sync",
	domain.TaskIDDocumentProcessing: "Document Processing",
	domain.TaskIDStaleRunCheck:      "Stale Run Check",
}

// Scheduler runs the built-in tasks on cron schedules and persists their
// state. A task still running when its next tick fires is skipped.
type Scheduler struct {
	store      driven.SchedulerStore
	sync       driving.SyncService
	processing driving.ProcessingService
	runs       driving.RunTracker
	configs    driven.ConfigStore

	mu      sync.Mutex
	cfg     domain.SchedulerConfig
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
	stopCh  chan struct{}
	jobCtx  context.Context

	now func() time.Time
}

// NewScheduler creates a scheduler. configs may be nil, in which case the
// schedule is fixed for the life of the process.
func NewScheduler(
	cfg domain.SchedulerConfig,
	store driven.SchedulerStore,
	syncSvc driving.SyncService,
	processing driving.ProcessingService,
	runs driving.RunTracker,
	configs driven.ConfigStore,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		sync:       syncSvc,
		processing: processing,
		runs:       runs,
		configs:    configs,
		entries:    make(map[string]cron.EntryID),
		now:        time.Now,
	}
}

// Start registers the enabled tasks and blocks until ctx is cancelled or
// Stop is called. Tasks in flight are waited for before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		logger.Info("Scheduler disabled in configuration")
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.running = true
	s.stopCh = make(chan struct{})
	s.jobCtx = jobCtx
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	// Reloads block on s.mu until registration below completes.
	if s.configs != nil {
		err := s.configs.Watch(jobCtx, func(cfg *domain.Config) {
			if rerr := s.Reload(cfg.Scheduler); rerr != nil {
				logger.Warn("Scheduler reload rejected: %v", rerr)
			}
		}, func(err error) {
			logger.Warn("Config reload failed: %v", err)
		})
		if err != nil {
			logger.Warn("Config watch unavailable: %v", err)
		}
	}

	if err := s.applyLocked(jobCtx, s.cfg); err != nil {
		s.running = false
		s.entries = make(map[string]cron.EntryID)
		s.mu.Unlock()
		return err
	}
	s.cron.Start()
	stopCh := s.stopCh
	registered := len(s.entries)
	s.mu.Unlock()

	logger.Info("Scheduler started with %d tasks", registered)

	var result error
	select {
	case <-ctx.Done():
		result = ctx.Err()
	case <-stopCh:
	}

	s.mu.Lock()
	c := s.cron
	s.running = false
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	logger.Info("Scheduler stopped")
	return result
}

// Stop asks a running Start to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return nil
}

// Tasks returns the persisted state of every task.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	return s.store.ListTasks(ctx)
}

// Reload swaps in a new scheduler configuration. Tasks whose schedule or
// enabled flag changed are re-registered; the rest keep their timers.
func (s *Scheduler) Reload(cfg domain.SchedulerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.cfg = cfg
		return nil
	}
	if err := s.applyLocked(s.jobCtx, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	logger.Info("Scheduler configuration reloaded")
	return nil
}

// applyLocked reconciles cron entries and persisted task rows with cfg.
// Every schedule is parsed before anything changes.
func (s *Scheduler) applyLocked(ctx context.Context, cfg domain.SchedulerConfig) error {
	schedules := make(map[string]cron.Schedule)
	for id := range taskNames {
		tc := cfg.GetTaskConfig(id)
		if !tc.Enabled {
			continue
		}
		sched, err := cron.ParseStandard(tc.Schedule)
		if err != nil {
			return fmt.Errorf("%w: task %s schedule %q: %v", domain.ErrInvalidInput, id, tc.Schedule, err)
		}
		schedules[id] = sched
	}

	for id, name := range taskNames {
		tc := cfg.GetTaskConfig(id)
		prev := s.cfg.GetTaskConfig(id)
		entryID, registered := s.entries[id]

		if registered && (!tc.Enabled || tc.Schedule != prev.Schedule) {
			s.cron.Remove(entryID)
			delete(s.entries, id)
			registered = false
		}
		if tc.Enabled && !registered {
			taskID := id
			entryID, err := s.cron.AddJob(tc.Schedule, cron.FuncJob(func() {
				s.execute(ctx, taskID)
			}))
			if err != nil {
				return fmt.Errorf("register task %s: %w", id, err)
			}
			s.entries[id] = entryID
		}

		if err := s.ensureTask(ctx, id, name, tc, schedules[id]); err != nil {
			logger.Warn("Persist task %s: %v", id, err)
		}
	}
	return nil
}

// ensureTask creates or updates the persisted row of a task.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig, sched cron.Schedule) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		task = &domain.ScheduledTask{ID: id, Name: name}
	}
	if task.Schedule != cfg.Schedule || task.NextRun.IsZero() {
		task.Schedule = cfg.Schedule
		if sched != nil {
			task.NextRun = sched.Next(s.now())
		}
	}
	task.Enabled = cfg.Enabled
	if !cfg.Enabled {
		task.NextRun = time.Time{}
	}
	return s.store.SaveTask(ctx, task)
}

// execute runs one task and records its outcome.
func (s *Scheduler) execute(ctx context.Context, taskID string) {
	result := &domain.TaskResult{TaskID: taskID, StartedAt: s.now()}

	var err error
	switch taskID {
	case domain.TaskIDEntitySync:
		result.ItemsProcessed, err = s.runEntitySync(ctx)
	case domain.TaskIDDocumentProcessing:
		result.ItemsProcessed, err = s.runDocumentProcessing(ctx)
	case domain.TaskIDStaleRunCheck:
		result.ItemsProcessed, err = s.runStaleRunCheck(ctx)
	default:
		logger.Warn("Unknown scheduled task %s", taskID)
		return
	}
	result.EndedAt = s.now()
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		logger.Warn("Task %s failed: %v", taskID, err)
	}

	// Persistence uses a detached context so a shutdown still records the outcome.
	storeCtx := context.WithoutCancel(ctx)
	task, gerr := s.store.GetTask(storeCtx, taskID)
	if gerr != nil || task == nil {
		task = &domain.ScheduledTask{ID: taskID, Name: taskNames[taskID], Enabled: true}
	}
	task.LastRun = result.StartedAt
	if err != nil {
		task.LastError = err.Error()
	} else {
		task.LastError = ""
		task.LastSuccess = result.EndedAt
	}
	task.NextRun = s.nextRun(taskID)

	if serr := s.store.SaveTask(storeCtx, task); serr != nil {
		logger.Warn("Save task %s: %v", taskID, serr)
	}
	if rerr := s.store.RecordResult(storeCtx, result); rerr != nil {
		logger.Warn("Record result for %s: %v", taskID, rerr)
	}
	if perr := s.store.PruneHistory(storeCtx, historyKeep); perr != nil {
		logger.Warn("Prune task history: %v", perr)
	}
}

func (s *Scheduler) nextRun(taskID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	id, ok := s.entries[taskID]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) runEntitySync(ctx context.Context) (int, error) {
	if s.sync == nil {
		return 0, nil
	}
	report, err := s.sync.Run(ctx, driving.SyncOptions{})
	if errors.Is(err, domain.ErrRunInProgress) {
		logger.Info("Entity sync skipped: %v", err)
		return 0, nil
	}
	if report == nil {
		return 0, err
	}
	return report.Counters.Classified(), err
}

func (s *Scheduler) runDocumentProcessing(ctx context.Context) (int, error) {
	if s.processing == nil {
		return 0, nil
	}
	report, err := s.processing.Process(ctx, driving.ProcessOptions{})
	if report == nil {
		return 0, err
	}
	return report.Attempted, err
}

// runStaleRunCheck reports runs left running by a crashed process.
// Their rows are not modified.
func (s *Scheduler) runStaleRunCheck(ctx context.Context) (int, error) {
	if s.runs == nil {
		return 0, nil
	}
	s.mu.Lock()
	olderThan := s.cfg.StaleAfter.Duration
	s.mu.Unlock()
	if olderThan <= 0 {
		olderThan = domain.DefaultSchedulerConfig().StaleAfter.Duration
	}

	stale, err := s.runs.Stale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	for _, r := range stale {
		logger.L().Warn().Str("run_id", r.ID).Str("dataset", r.Dataset).
			Str("started_at", r.StartedAt.Format(time.RFC3339)).
			Msg("run still marked running; the process that owned it probably crashed")
	}
	return len(stale), nil
}
