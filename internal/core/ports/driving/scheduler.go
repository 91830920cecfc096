package driving

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// Scheduler runs the sync, processing and stale-run tasks on cron schedules.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error

	// Tasks returns the persisted state of every task.
	Tasks(ctx context.Context) ([]domain.ScheduledTask, error)
}
