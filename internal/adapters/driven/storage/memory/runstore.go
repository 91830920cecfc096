package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure RunStore implements the interface.
var _ driven.RunStore = (*RunStore)(nil)

// RunStore is an in-memory implementation of driven.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.PipelineRun
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.PipelineRun)}
}

// Create inserts a new run.
func (s *RunStore) Create(_ context.Context, run *domain.PipelineRun) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Update overwrites the mutable columns of a run.
func (s *RunStore) Update(_ context.Context, run *domain.PipelineRun) error {
	if run == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return domain.ErrNotFound
	}
	updated := cloneRun(run)
	updated.Dataset = existing.Dataset
	updated.StartedAt = existing.StartedAt
	s.runs[run.ID] = updated
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(_ context.Context, id string) (*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

// List returns the most recent runs, newest first.
func (s *RunStore) List(_ context.Context, dataset string, limit int) ([]domain.PipelineRun, error) {
	return s.filter(limit, func(r *domain.PipelineRun) bool {
		return dataset == "" || r.Dataset == dataset
	}), nil
}

// ListRunning returns running runs that started before the cutoff.
func (s *RunStore) ListRunning(_ context.Context, startedBefore time.Time) ([]domain.PipelineRun, error) {
	return s.filter(0, func(r *domain.PipelineRun) bool {
		return r.Status == domain.RunRunning && r.StartedAt.Before(startedBefore)
	}), nil
}

func (s *RunStore) filter(limit int, keep func(*domain.PipelineRun) bool) []domain.PipelineRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PipelineRun
	for _, r := range s.runs {
		if keep(r) {
			out = append(out, *cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneRun(r *domain.PipelineRun) *domain.PipelineRun {
	cp := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
