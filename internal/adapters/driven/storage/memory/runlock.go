package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure RunLocker implements the interface.
var _ driven.RunLocker = (*RunLocker)(nil)

// RunLocker is an in-process implementation of driven.RunLocker.
type RunLocker struct {
	mu      sync.Mutex
	holders map[string]string // dataset -> owner
}

// NewRunLocker creates a new in-memory run locker.
func NewRunLocker() *RunLocker {
	return &RunLocker{holders: make(map[string]string)}
}

// Acquire takes the dataset lock without blocking.
func (l *RunLocker) Acquire(_ context.Context, dataset, owner string) (driven.RunLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.holders[dataset]; ok {
		return nil, fmt.Errorf("%w: dataset %q held by %s", domain.ErrRunInProgress, dataset, holder)
	}
	l.holders[dataset] = owner
	return &runLock{locker: l, dataset: dataset, owner: owner}, nil
}

// Holder returns the current owner of a dataset lock, if any.
func (l *RunLocker) Holder(dataset string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.holders[dataset]
	return owner, ok
}

type runLock struct {
	locker  *RunLocker
	dataset string
	owner   string
	once    sync.Once
}

func (r *runLock) Release(_ context.Context) error {
	r.once.Do(func() {
		r.locker.mu.Lock()
		defer r.locker.mu.Unlock()
		if r.locker.holders[r.dataset] == r.owner {
			delete(r.locker.holders, r.dataset)
		}
	})
	return nil
}
