// Package memstore provides the in-memory reference implementation of the
// persistence.Store contract. It backs tests and single-process setups
// where durability across restarts is not required.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
)

var _ persistence.Store = (*Store)(nil)

// Store keeps run records and step results in mutex-guarded maps. Every
// read returns a deep copy so callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*models.RunRecord
	results map[string]map[string]*models.StepResult
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:    make(map[string]*models.RunRecord),
		results: make(map[string]map[string]*models.StepResult),
	}
}

// GetRun implements persistence.Store.
func (s *Store) GetRun(_ context.Context, runID string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}
	rec, ok := s.runs[runID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return rec.Clone(), nil
}

// PutRun implements persistence.Store.
func (s *Store) PutRun(_ context.Context, rec *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}
	s.runs[rec.RunID] = rec.Clone()
	return nil
}

// ListRuns implements persistence.Store.
func (s *Store) ListRuns(_ context.Context, opts ...persistence.ListRunsOption) ([]*models.RunRecord, error) {
	var options persistence.ListRunsOptions
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var recs []*models.RunRecord
	for _, rec := range s.runs {
		if options.Matches(rec) {
			recs = append(recs, rec.Clone())
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
	if options.Limit > 0 && len(recs) > options.Limit {
		recs = recs[:options.Limit]
	}
	return recs, nil
}

// GetStepResult implements persistence.Store.
func (s *Store) GetStepResult(_ context.Context, runID, stepName string) (*models.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}
	res, ok := s.results[runID][stepName]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

// PutStepResult implements persistence.Store.
func (s *Store) PutStepResult(_ context.Context, res *models.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}
	byStep, ok := s.results[res.RunID]
	if !ok {
		byStep = make(map[string]*models.StepResult)
		s.results[res.RunID] = byStep
	}
	cp := *res
	byStep[res.StepName] = &cp
	return nil
}

// DeleteStepResult implements persistence.Store.
func (s *Store) DeleteStepResult(_ context.Context, runID, stepName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}
	delete(s.results[runID], stepName)
	return nil
}

// ListStepResults implements persistence.Store.
func (s *Store) ListStepResults(_ context.Context, runID string) ([]*models.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	byStep := s.results[runID]
	results := make([]*models.StepResult, 0, len(byStep))
	for _, res := range byStep {
		cp := *res
		results = append(results, &cp)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StepName < results[j].StepName
	})
	return results, nil
}

// RemoveOldRuns implements persistence.Store.
func (s *Store) RemoveOldRuns(_ context.Context, retentionDays int) error {
	if retentionDays < 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for runID, rec := range s.runs {
		if rec.Status.IsActive() {
			continue
		}
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.runs, runID)
			delete(s.results, runID)
		}
	}
	return nil
}

// Close implements persistence.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
