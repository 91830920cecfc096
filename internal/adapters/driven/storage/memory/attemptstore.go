package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure AttemptStore implements the interface.
var _ driven.AttemptStore = (*AttemptStore)(nil)

// AttemptStore is an in-memory implementation of driven.AttemptStore.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.ProcessingAttempt
	order    []string
}

// NewAttemptStore creates a new in-memory attempt store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]*domain.ProcessingAttempt)}
}

// Record upserts the outcome of one attempt.
func (s *AttemptStore) Record(_ context.Context, rec domain.AttemptRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[rec.ItemID]
	if !ok {
		a = &domain.ProcessingAttempt{
			ItemID:    rec.ItemID,
			CreatedAt: rec.At,
		}
		s.attempts[rec.ItemID] = a
		s.order = append(s.order, rec.ItemID)
	}

	a.Dataset = rec.Dataset
	a.EntityKey = rec.EntityKey
	a.Task = rec.Task
	a.DocumentURL = rec.DocumentURL
	a.Status = rec.Status

	if rec.Status == domain.AttemptPending {
		return nil
	}

	a.Attempts++
	at := rec.At
	a.LastAttemptAt = &at
	a.ErrorType = rec.ErrorType
	a.ErrorMessage = rec.ErrorMessage
	if rec.Status == domain.AttemptSuccess {
		a.Output = rec.Output.Clone()
	}
	return nil
}

// Get retrieves one attempt.
func (s *AttemptStore) Get(_ context.Context, itemID string) (*domain.ProcessingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAttempt(a), nil
}

// GetMany retrieves attempts for the given item IDs.
func (s *AttemptStore) GetMany(_ context.Context, itemIDs []string) (map[string]*domain.ProcessingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.ProcessingAttempt, len(itemIDs))
	for _, id := range itemIDs {
		if a, ok := s.attempts[id]; ok {
			out[id] = cloneAttempt(a)
		}
	}
	return out, nil
}

// List returns attempts matching the filter, oldest first.
func (s *AttemptStore) List(_ context.Context, filter domain.AttemptFilter) ([]domain.ProcessingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ProcessingAttempt
	for _, id := range s.order {
		a := s.attempts[id]
		if !matches(a, filter) {
			continue
		}
		out = append(out, *cloneAttempt(a))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Reset moves the given items back to pending.
func (s *AttemptStore) Reset(_ context.Context, itemIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range itemIDs {
		a, ok := s.attempts[id]
		if !ok || a.Status == domain.AttemptPending {
			continue
		}
		a.Status = domain.AttemptPending
		a.ResetCount++
		n++
	}
	return n, nil
}

// ResetByErrorType resets error items carrying the given type.
func (s *AttemptStore) ResetByErrorType(_ context.Context, dataset string, errType domain.ErrorType) (int, error) {
	if !errType.IsValid() {
		return 0, domain.ErrUnknownErrorType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.order {
		a := s.attempts[id]
		if a.Status != domain.AttemptError || a.ErrorType != errType {
			continue
		}
		if dataset != "" && a.Dataset != dataset {
			continue
		}
		a.Status = domain.AttemptPending
		a.ResetCount++
		n++
	}
	return n, nil
}

// CountByErrorType aggregates error items by type, most frequent first.
func (s *AttemptStore) CountByErrorType(_ context.Context, dataset string) ([]domain.ErrorTypeCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.ErrorType]int)
	for _, a := range s.attempts {
		if a.Status != domain.AttemptError || (dataset != "" && a.Dataset != dataset) {
			continue
		}
		counts[a.ErrorType]++
	}

	out := make([]domain.ErrorTypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, domain.ErrorTypeCount{ErrorType: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].ErrorType < out[j].ErrorType
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

// Stats counts items by status.
func (s *AttemptStore) Stats(_ context.Context, dataset string) (domain.AttemptStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st domain.AttemptStats
	for _, a := range s.attempts {
		if dataset != "" && a.Dataset != dataset {
			continue
		}
		switch a.Status {
		case domain.AttemptPending:
			st.Pending++
		case domain.AttemptSuccess:
			st.Success++
		case domain.AttemptError:
			st.Error++
		}
	}
	return st, nil
}

func matches(a *domain.ProcessingAttempt, f domain.AttemptFilter) bool {
	if f.Dataset != "" && a.Dataset != f.Dataset {
		return false
	}
	if f.Task != "" && a.Task != f.Task {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ErrorType != domain.ErrorTypeNone && a.ErrorType != f.ErrorType {
		return false
	}
	return true
}

func cloneAttempt(a *domain.ProcessingAttempt) *domain.ProcessingAttempt {
	cp := *a
	cp.Output = a.Output.Clone()
	if a.LastAttemptAt != nil {
		t := *a.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	return &cp
}
