package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure SnapshotStore implements the interface.
var _ driven.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore is an in-memory implementation of driven.SnapshotStore.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps []domain.SourceSnapshot
	byID  map[string]int
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{byID: make(map[string]int)}
}

// Record appends a snapshot. Snapshot IDs are never reused.
func (s *SnapshotStore) Record(_ context.Context, snap *domain.SourceSnapshot) error {
	if snap == nil || snap.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[snap.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *snap
	cp.Payload = append([]byte(nil), snap.Payload...)
	s.byID[cp.ID] = len(s.snaps)
	s.snaps = append(s.snaps, cp)
	return nil
}

// Get retrieves a snapshot by ID.
func (s *SnapshotStore) Get(_ context.Context, id string) (*domain.SourceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	snap := s.snaps[i]
	return &snap, nil
}

// List returns snapshots matching the filter in insertion order.
func (s *SnapshotStore) List(_ context.Context, filter domain.SnapshotFilter) ([]domain.SourceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SourceSnapshot
	for _, snap := range s.snaps {
		if filter.Dataset != "" && snap.Dataset != filter.Dataset {
			continue
		}
		if filter.RunID != "" && snap.RunID != filter.RunID {
			continue
		}
		if filter.FailedOnly && !snap.Failed() {
			continue
		}
		out = append(out, snap)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of snapshots stored for a dataset.
func (s *SnapshotStore) Count(_ context.Context, dataset string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, snap := range s.snaps {
		if snap.Dataset == dataset {
			n++
		}
	}
	return n, nil
}
