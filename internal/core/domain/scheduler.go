package domain

import "time"

// ScheduledTask represents a recurring background task.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string

	// Name is a human-readable name for the task.
	Name string

	// Schedule is the cron expression the task runs on.
	Schedule string

	// LastRun is when the task last ran.
	LastRun time.Time

	// NextRun is when the task should run next.
	NextRun time.Time

	// LastError contains the last error message, if any.
	LastError string

	// LastSuccess is when the task last completed successfully.
	LastSuccess time.Time

	// Enabled indicates whether the task is active.
	Enabled bool
}

// TaskResult represents the outcome of a task execution.
type TaskResult struct {
	// TaskID identifies which task was run.
	TaskID string

	// StartedAt is when the task started.
	StartedAt time.Time

	// EndedAt is when the task completed.
	EndedAt time.Time

	// Success indicates whether the task completed without error.
	Success bool

	// Error contains the error message if Success is false.
	Error string

	// ItemsProcessed is a count of items handled (e.g., records synced).
	ItemsProcessed int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool `toml:"enabled"`

	// StaleAfter is how long a run may stay "running" before it is reported.
	StaleAfter Duration `toml:"stale_after"`

	// Tasks holds per-task configuration keyed by task ID.
	Tasks map[string]TaskConfig `toml:"tasks" validate:"dive"`
}

// TaskConfig holds configuration for a single task.
type TaskConfig struct {
	// Enabled indicates whether this task should run.
	Enabled bool `toml:"enabled"`

	// Schedule is a cron expression (robfig/cron syntax, descriptors allowed).
	Schedule string `toml:"schedule" validate:"omitempty,cron"`
}

// GetTaskConfig returns the configuration for a specific task.
// Returns a zero TaskConfig if the task is not configured.
func (c *SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	if c.Tasks == nil {
		return TaskConfig{}
	}
	return c.Tasks[taskID]
}

// DefaultSchedulerConfig returns sensible defaults for the scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:    true,
		StaleAfter: Duration{6 * time.Hour},
		Tasks: map[string]TaskConfig{
			TaskIDEntitySync: {
				Enabled:  true,
				Schedule: "@hourly",
			},
			TaskIDDocumentProcessing: {
				Enabled:  true,
				Schedule: "@every 30m",
			},
			TaskIDStaleRunCheck: {
				Enabled:  true,
				Schedule: "@every 10m",
			},
		},
	}
}

// Task IDs for built-in tasks.
const (
	TaskIDEntitySync         = "entity-sync"
	TaskIDDocumentProcessing = "document-processing"
	TaskIDStaleRunCheck      = "stale-run-check"
)
