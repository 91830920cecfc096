package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is an in-memory implementation of driven.ConfigStore for testing.
// Save notifies active watchers synchronously.
type ConfigStore struct {
	mu       sync.RWMutex
	cfg      *domain.Config
	watchers map[int]func(*domain.Config)
	nextID   int
}

// NewConfigStore creates a store holding cfg. A nil cfg makes Load fail
// with domain.ErrNotFound until Save is called.
func NewConfigStore(cfg *domain.Config) *ConfigStore {
	s := &ConfigStore{watchers: make(map[int]func(*domain.Config))}
	if cfg != nil {
		c := *cfg
		s.cfg = &c
	}
	return s
}

// Load returns a copy of the held configuration.
func (s *ConfigStore) Load() (*domain.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, domain.ErrNotFound
	}
	c := *s.cfg
	return &c, nil
}

// Save replaces the configuration and notifies watchers.
func (s *ConfigStore) Save(cfg *domain.Config) error {
	if cfg == nil {
		return domain.ErrInvalidInput
	}
	c := *cfg

	s.mu.Lock()
	s.cfg = &c
	watchers := make([]func(*domain.Config), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		copied := c
		w(&copied)
	}
	return nil
}

// Watch registers onChange until ctx is cancelled.
func (s *ConfigStore) Watch(ctx context.Context, onChange func(*domain.Config), _ func(error)) error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = onChange
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()
	return nil
}

// Path returns an empty path; nothing is persisted.
func (s *ConfigStore) Path() string {
	return ""
}
