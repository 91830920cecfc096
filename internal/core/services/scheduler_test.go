package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
)

// --- Test doubles for scheduler testing ---

type stubSyncService struct {
	driving.SyncService
	report *driving.SyncReport
	err    error
	calls  int
}

func (s *stubSyncService) Run(_ context.Context, _ driving.SyncOptions) (*driving.SyncReport, error) {
	s.calls++
	return s.report, s.err
}

type stubProcessing struct {
	driving.ProcessingService
	report *driving.ProcessReport
	err    error
}

func (s *stubProcessing) Process(_ context.Context, _ driving.ProcessOptions) (*driving.ProcessReport, error) {
	return s.report, s.err
}

func schedulerConfig(schedule string) domain.SchedulerConfig {
	cfg := domain.DefaultSchedulerConfig()
	for id, tc := range cfg.Tasks {
		tc.Schedule = schedule
		cfg.Tasks[id] = tc
	}
	return cfg
}

// startScheduler runs Start in the background until the test ends.
func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestScheduler_StartPersistsTasks(t *testing.T) {
	store := memory.NewSchedulerStore()
	s := NewScheduler(schedulerConfig("@every 1h"), store, nil, nil, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		tasks, err := s.Tasks(context.Background())
		return err == nil && len(tasks) == 3
	}, 2*time.Second, 10*time.Millisecond)

	tasks, err := s.Tasks(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		assert.True(t, task.Enabled, task.ID)
		assert.Equal(t, "@every 1h", task.Schedule)
		assert.False(t, task.NextRun.IsZero(), task.ID)
		assert.NotEmpty(t, task.Name)
	}

	require.Eventually(t, func() bool {
		require.NoError(t, s.Stop())
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Stopping a stopped scheduler is harmless.
	assert.NoError(t, s.Stop())
}

func TestScheduler_Disabled(t *testing.T) {
	cfg := schedulerConfig("@hourly")
	cfg.Enabled = false
	store := memory.NewSchedulerStore()
	s := NewScheduler(cfg, store, nil, nil, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	tasks, err := store.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(schedulerConfig("every now and then"), memory.NewSchedulerStore(), nil, nil, nil, nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScheduler_RunsTaskOnSchedule(t *testing.T) {
	cfg := schedulerConfig("@hourly")
	cfg.Tasks[domain.TaskIDStaleRunCheck] = domain.TaskConfig{Enabled: true, Schedule: "@every 1s"}
	store := memory.NewSchedulerStore()
	tracker := NewRunTracker(memory.NewRunStore())
	s := NewScheduler(cfg, store, nil, nil, tracker, nil)

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		history, err := store.GetTaskHistory(context.Background(), domain.TaskIDStaleRunCheck, 10)
		return err == nil && len(history) > 0
	}, 3*time.Second, 50*time.Millisecond)

	task, err := store.GetTask(context.Background(), domain.TaskIDStaleRunCheck)
	require.NoError(t, err)
	assert.False(t, task.LastSuccess.IsZero())
	assert.Empty(t, task.LastError)
}

func TestScheduler_EntitySyncRecordsResult(t *testing.T) {
	store := memory.NewSchedulerStore()
	syncSvc := &stubSyncService{report: &driving.SyncReport{
		Status:   domain.RunCompleted,
		Counters: domain.Counters{New: 2, Updated: 1, Unchanged: 4, Failed: 1},
	}}
	s := NewScheduler(schedulerConfig("@hourly"), store, syncSvc, nil, nil, nil)

	s.execute(context.Background(), domain.TaskIDEntitySync)

	assert.Equal(t, 1, syncSvc.calls)
	history, err := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 7, history[0].ItemsProcessed)

	task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.False(t, task.LastSuccess.IsZero())
	assert.Equal(t, "Entity Sync", task.Name)
}

func TestScheduler_EntitySyncSkippedWhileLocked(t *testing.T) {
	store := memory.NewSchedulerStore()
	syncSvc := &stubSyncService{err: fmt.Errorf("acquire run lock: %w", domain.ErrRunInProgress)}
	s := NewScheduler(schedulerConfig("@hourly"), store, syncSvc, nil, nil, nil)

	s.execute(context.Background(), domain.TaskIDEntitySync)

	history, err := store.GetTaskHistory(context.Background(), domain.TaskIDEntitySync, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Zero(t, history[0].ItemsProcessed)
}

func TestScheduler_ProcessingFailureRecorded(t *testing.T) {
	store := memory.NewSchedulerStore()
	processing := &stubProcessing{
		report: &driving.ProcessReport{Attempted: 3},
		err:    errors.New("attempt store unavailable"),
	}
	s := NewScheduler(schedulerConfig("@hourly"), store, nil, processing, nil, nil)

	s.execute(context.Background(), domain.TaskIDDocumentProcessing)

	history, err := store.GetTaskHistory(context.Background(), domain.TaskIDDocumentProcessing, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Equal(t, 3, history[0].ItemsProcessed)
	assert.Equal(t, "attempt store unavailable", history[0].Error)

	task, err := store.GetTask(context.Background(), domain.TaskIDDocumentProcessing)
	require.NoError(t, err)
	assert.Equal(t, "attempt store unavailable", task.LastError)
	assert.True(t, task.LastSuccess.IsZero())
}

func TestScheduler_StaleRunCheckLeavesRunsUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSchedulerStore()
	tracker := NewRunTracker(memory.NewRunStore())
	tracker.now = func() time.Time { return time.Now().Add(-12 * time.Hour) }
	crashed, err := tracker.Start(ctx, "tenders")
	require.NoError(t, err)
	tracker.now = time.Now

	s := NewScheduler(schedulerConfig("@hourly"), store, nil, nil, tracker, nil)
	s.execute(ctx, domain.TaskIDStaleRunCheck)

	history, err := store.GetTaskHistory(ctx, domain.TaskIDStaleRunCheck, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].ItemsProcessed)

	run, err := tracker.Get(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
}

func TestScheduler_ReloadFromConfigStore(t *testing.T) {
	base := domain.DefaultConfig()
	base.Scheduler = schedulerConfig("@hourly")
	configs := memory.NewConfigStore(&base)
	store := memory.NewSchedulerStore()
	s := NewScheduler(base.Scheduler, store, nil, nil, nil, configs)

	startScheduler(t, s)
	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
		return err == nil && task != nil
	}, 2*time.Second, 10*time.Millisecond)

	updated := base
	updated.Scheduler = schedulerConfig("@hourly")
	updated.Scheduler.Tasks[domain.TaskIDEntitySync] = domain.TaskConfig{Enabled: true, Schedule: "@daily"}
	updated.Scheduler.Tasks[domain.TaskIDDocumentProcessing] = domain.TaskConfig{Enabled: false}
	require.NoError(t, configs.Save(&updated))

	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
		return err == nil && task != nil && task.Schedule == "@daily"
	}, 2*time.Second, 10*time.Millisecond)

	task, err := store.GetTask(context.Background(), domain.TaskIDDocumentProcessing)
	require.NoError(t, err)
	assert.False(t, task.Enabled)
	assert.True(t, task.NextRun.IsZero())
}

func TestScheduler_ReloadRejectsInvalidSchedule(t *testing.T) {
	store := memory.NewSchedulerStore()
	s := NewScheduler(schedulerConfig("@hourly"), store, nil, nil, nil, nil)
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		tasks, err := store.ListTasks(context.Background())
		return err == nil && len(tasks) == 3
	}, 2*time.Second, 10*time.Millisecond)

	err := s.Reload(schedulerConfig("not a schedule"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	task, err := store.GetTask(context.Background(), domain.TaskIDEntitySync)
	require.NoError(t, err)
	assert.Equal(t, "@hourly", task.Schedule)
}
