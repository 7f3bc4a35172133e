// Package persistence defines the durable store contract for run records
// and step results. It abstracts the storage mechanism so that in-memory
// and SQL-backed implementations are interchangeable.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/policity/policity/internal/models"
)

// Errors related to run and step result storage.
var (
	ErrNotFound      = errors.New("record not found")
	ErrClosed        = errors.New("store is closed")
	ErrInvalidDSN    = errors.New("invalid data source name")
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Store is the durable mapping from run identity to run state and from
// (run identity, step name) to the last persisted step result. All
// single-key operations are atomic; Put operations are last-write-wins
// upserts.
type Store interface {
	// GetRun returns the run record, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	// PutRun upserts the run record.
	PutRun(ctx context.Context, rec *models.RunRecord) error
	// ListRuns returns run records, newest first.
	ListRuns(ctx context.Context, opts ...ListRunsOption) ([]*models.RunRecord, error)

	// GetStepResult returns the persisted result for the key, or ErrNotFound.
	GetStepResult(ctx context.Context, runID, stepName string) (*models.StepResult, error)
	// PutStepResult upserts the result under its (RunID, StepName) key.
	PutStepResult(ctx context.Context, res *models.StepResult) error
	// DeleteStepResult removes the result for the key. Deleting a missing
	// key is not an error.
	DeleteStepResult(ctx context.Context, runID, stepName string) error
	// ListStepResults returns all persisted results for the run.
	ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error)

	// RemoveOldRuns deletes runs (and their step results) whose last
	// update is older than retentionDays. Negative retention disables the
	// sweep; active runs are never removed.
	RemoveOldRuns(ctx context.Context, retentionDays int) error

	// Close releases underlying resources.
	Close() error
}

// ListRunsOptions contains filters for listing runs.
type ListRunsOptions struct {
	Statuses []models.RunStatus
	From     time.Time
	To       time.Time
	Limit    int
}

// ListRunsOption is a functional option for configuring ListRunsOptions.
type ListRunsOption func(*ListRunsOptions)

// WithStatuses restricts the listing to the given run statuses.
func WithStatuses(statuses ...models.RunStatus) ListRunsOption {
	return func(o *ListRunsOptions) {
		o.Statuses = statuses
	}
}

// WithFrom sets the inclusive lower bound on UpdatedAt.
func WithFrom(from time.Time) ListRunsOption {
	return func(o *ListRunsOptions) {
		o.From = from
	}
}

// WithTo sets the exclusive upper bound on UpdatedAt.
func WithTo(to time.Time) ListRunsOption {
	return func(o *ListRunsOptions) {
		o.To = to
	}
}

// WithLimit caps the number of returned records.
func WithLimit(limit int) ListRunsOption {
	return func(o *ListRunsOptions) {
		o.Limit = limit
	}
}

// Matches applies the filters to a record.
func (o *ListRunsOptions) Matches(rec *models.RunRecord) bool {
	if len(o.Statuses) > 0 {
		var ok bool
		for _, s := range o.Statuses {
			if rec.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !o.From.IsZero() && rec.UpdatedAt.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && !rec.UpdatedAt.Before(o.To) {
		return false
	}
	return true
}
