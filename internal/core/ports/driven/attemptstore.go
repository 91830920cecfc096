package driven

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// AttemptStore persists downstream per-item processing state.
// Rows are created on first record and never deleted.
type AttemptStore interface {
	// Record upserts the outcome of one attempt. Success and error outcomes
	// increment the attempt counter; pending does not.
	Record(ctx context.Context, rec domain.AttemptRecord) error

	// Get retrieves one attempt by item ID.
	Get(ctx context.Context, itemID string) (*domain.ProcessingAttempt, error)

	// GetMany retrieves attempts for the given item IDs. Unknown IDs are absent.
	GetMany(ctx context.Context, itemIDs []string) (map[string]*domain.ProcessingAttempt, error)

	// List returns attempts matching the filter, oldest first.
	List(ctx context.Context, filter domain.AttemptFilter) ([]domain.ProcessingAttempt, error)

	// Reset moves the given items back to pending and increments their reset
	// count. Attempt counts and the last error are kept. Returns rows changed.
	Reset(ctx context.Context, itemIDs []string) (int, error)

	// ResetByErrorType resets only error-status items carrying the given type.
	ResetByErrorType(ctx context.Context, dataset string, errType domain.ErrorType) (int, error)

	// CountByErrorType aggregates error-status items by type, most frequent first.
	CountByErrorType(ctx context.Context, dataset string) ([]domain.ErrorTypeCount, error)

	// Stats counts items by status.
	Stats(ctx context.Context, dataset string) (domain.AttemptStats, error)
}
