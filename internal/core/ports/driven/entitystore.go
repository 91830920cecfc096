package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// EntityStore persists normalised entities.
type EntityStore interface {
	// Lookup returns the stored entities for the given keys in one query.
	// Keys with no stored entity are absent from the map.
	Lookup(ctx context.Context, dataset string, keys []string) (map[string]*domain.Entity, error)

	// Apply commits all writes of one chunk atomically, together with a
	// change-history row for every field transition. Either every write is
	// visible afterwards or none is.
	Apply(ctx context.Context, dataset, runID string, writes []domain.EntityWrite, at time.Time) error

	// Get retrieves one entity.
	Get(ctx context.Context, dataset, key string) (*domain.Entity, error)

	// List returns entities ordered by key.
	List(ctx context.Context, dataset string, limit, offset int) ([]domain.Entity, error)

	// Count returns the number of entities in a dataset.
	Count(ctx context.Context, dataset string) (int, error)

	// History returns the change-history rows of one entity, oldest first.
	History(ctx context.Context, dataset, key string) ([]domain.EntityChange, error)
}
