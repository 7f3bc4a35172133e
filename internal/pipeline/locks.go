package pipeline

import (
	"context"
	"sync"
)

// runLocks serializes executions per run ID. A second caller for a run
// already executing blocks until the first finishes, then proceeds and
// normally lands on the cache-hit path. Entries are reference-counted so
// the map does not grow with every run ID ever seen.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	slot chan struct{}
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*runLock)}
}

// Acquire blocks until the run's slot is free or the context is
// canceled. On success it returns the release function.
func (l *runLocks) Acquire(ctx context.Context, runID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[runID]
	if !ok {
		entry = &runLock{slot: make(chan struct{}, 1)}
		l.locks[runID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-entry.slot
				l.unref(runID)
			})
		}
		return release, nil
	case <-ctx.Done():
		l.unref(runID)
		return nil, ctx.Err()
	}
}

func (l *runLocks) unref(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[runID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, runID)
	}
}
