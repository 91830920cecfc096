package driven

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// ConfigStore provides access to application configuration.
// Implementations handle persistence (e.g., TOML files), defaults and validation.
type ConfigStore interface {
	// Load reads, defaults and validates the configuration.
	Load() (*domain.Config, error)

	// Save persists a configuration to storage.
	Save(cfg *domain.Config) error

	// Watch calls onChange with each valid configuration written after the
	// call, until ctx is cancelled. Invalid edits are reported to onError.
	Watch(ctx context.Context, onChange func(*domain.Config), onError func(error)) error

	// Path returns the configuration file path.
	Path() string
}
