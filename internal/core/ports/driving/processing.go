package driving

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// ProcessOptions tunes one processing pass.
type ProcessOptions struct {
	// Limit caps the number of items attempted. Zero uses the configured limit.
	Limit int

	// Workers overrides the configured worker count.
	Workers int
}

// ProcessReport summarises one processing pass.
type ProcessReport struct {
	Attempted   int
	Succeeded   int
	Failed      int
	ByErrorType map[domain.ErrorType]int
}

// ProcessingSummary is the aggregation used to pick the next fix.
type ProcessingSummary struct {
	Stats  domain.AttemptStats
	Errors []domain.ErrorTypeCount
}

// ProcessingService drives downstream per-item work and its iterative
// reprocessing workflow.
type ProcessingService interface {
	// RecordAttempt stores one attempt outcome.
	RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error

	// Pending returns items waiting to be attempted.
	Pending(ctx context.Context, limit int) ([]domain.ProcessingAttempt, error)

	// ByErrorType returns failed items carrying the given type.
	ByErrorType(ctx context.Context, errType domain.ErrorType, limit int) ([]domain.ProcessingAttempt, error)

	// Reset moves the given items back to pending.
	Reset(ctx context.Context, itemIDs []string) (int, error)

	// ResetByErrorType moves only failed items of the given type back to pending.
	ResetByErrorType(ctx context.Context, errType domain.ErrorType) (int, error)

	// Summary aggregates attempts by status and failures by type.
	Summary(ctx context.Context) (*ProcessingSummary, error)

	// Process attempts a bounded sample of outstanding items.
	Process(ctx context.Context, opts ProcessOptions) (*ProcessReport, error)
}
