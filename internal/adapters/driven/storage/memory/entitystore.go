package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure EntityStore implements the interface.
var _ driven.EntityStore = (*EntityStore)(nil)

// EntityStore is an in-memory implementation of driven.EntityStore.
// Apply holds the write lock for the whole chunk, so readers observe either
// none or all of a chunk's writes.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]*domain.Entity // dataset -> key -> entity
	history  []domain.EntityChange
}

// NewEntityStore creates a new in-memory entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{entities: make(map[string]map[string]*domain.Entity)}
}

// Lookup returns the stored entities for the given keys.
func (s *EntityStore) Lookup(_ context.Context, dataset string, keys []string) (map[string]*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.Entity, len(keys))
	byKey := s.entities[dataset]
	for _, k := range keys {
		if e, ok := byKey[k]; ok {
			out[k] = cloneEntity(e)
		}
	}
	return out, nil
}

// Apply commits a chunk of writes. The chunk is validated first so a bad
// write leaves the store untouched.
func (s *EntityStore) Apply(_ context.Context, dataset, runID string, writes []domain.EntityWrite, at time.Time) error {
	for _, w := range writes {
		if w.Key == "" {
			return domain.ErrMissingIdentity
		}
		if w.Kind != domain.ChangeNew && w.Kind != domain.ChangeUpdated {
			return domain.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.entities[dataset]
	if !ok {
		byKey = make(map[string]*domain.Entity)
		s.entities[dataset] = byKey
	}

	for _, w := range writes {
		e, exists := byKey[w.Key]
		if !exists {
			e = &domain.Entity{Dataset: dataset, Key: w.Key, FirstSeenAt: at}
			byKey[w.Key] = e
		}
		e.Fields = w.Fields.Clone()
		e.LastRunID = runID
		if w.Kind == domain.ChangeUpdated && exists {
			changed := at
			e.LastChangedAt = &changed
		}
		for _, c := range w.Changes {
			s.history = append(s.history, domain.EntityChange{
				Dataset:   dataset,
				Key:       w.Key,
				RunID:     runID,
				Field:     c.Field,
				Old:       c.Old,
				New:       c.New,
				ChangedAt: at,
			})
		}
	}
	return nil
}

// Get retrieves one entity.
func (s *EntityStore) Get(_ context.Context, dataset, key string) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[dataset][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEntity(e), nil
}

// List returns entities ordered by key.
func (s *EntityStore) List(_ context.Context, dataset string, limit, offset int) ([]domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := s.entities[dataset]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if offset > len(keys) {
		offset = len(keys)
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	out := make([]domain.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, *cloneEntity(byKey[k]))
	}
	return out, nil
}

// Count returns the number of entities in a dataset.
func (s *EntityStore) Count(_ context.Context, dataset string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[dataset]), nil
}

// History returns the change rows of one entity, oldest first.
func (s *EntityStore) History(_ context.Context, dataset, key string) ([]domain.EntityChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EntityChange
	for _, c := range s.history {
		if c.Dataset == dataset && c.Key == key {
			out = append(out, c)
		}
	}
	return out, nil
}

func cloneEntity(e *domain.Entity) *domain.Entity {
	cp := *e
	cp.Fields = e.Fields.Clone()
	if e.LastChangedAt != nil {
		t := *e.LastChangedAt
		cp.LastChangedAt = &t
	}
	return &cp
}
