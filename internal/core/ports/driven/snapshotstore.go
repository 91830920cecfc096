package driven

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// SnapshotRecorder receives one snapshot per page request.
type SnapshotRecorder interface {
	// Record durably stores the snapshot before returning.
	Record(ctx context.Context, snapshot *domain.SourceSnapshot) error
}

// SnapshotStore is the append-only raw audit trail.
// Snapshots are never updated or deleted.
type SnapshotStore interface {
	SnapshotRecorder

	// Get retrieves a snapshot by ID.
	Get(ctx context.Context, id string) (*domain.SourceSnapshot, error)

	// List returns snapshots matching the filter, oldest first.
	List(ctx context.Context, filter domain.SnapshotFilter) ([]domain.SourceSnapshot, error)

	// Count returns the number of snapshots stored for a dataset.
	Count(ctx context.Context, dataset string) (int, error)
}
