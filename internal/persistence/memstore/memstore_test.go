package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
)

func newRecord(runID string, status models.RunStatus, updated time.Time) *models.RunRecord {
	rec := models.NewRunRecord(runID, map[string]any{"location": "Main St"}, []string{"planner"})
	rec.Status = status
	rec.UpdatedAt = updated
	return rec
}

func TestStoreRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("GetMissingRun", func(t *testing.T) {
		t.Parallel()
		store := New()

		_, err := store.GetRun(ctx, "nope")
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("PutThenGetReturnsCopy", func(t *testing.T) {
		t.Parallel()
		store := New()

		rec := newRecord("run-1", models.RunRunning, time.Now().UTC())
		require.NoError(t, store.PutRun(ctx, rec))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunRunning, got.Status)

		// Mutating the returned record must not leak into the store.
		got.Status = models.RunFailed
		got.StepStates["planner"] = models.StepFailed

		again, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunRunning, again.Status)
		assert.Equal(t, models.StepPending, again.StepStates["planner"])
	})

	t.Run("ListNewestFirstWithLimit", func(t *testing.T) {
		t.Parallel()
		store := New()

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, id := range []string{"run-a", "run-b", "run-c"} {
			rec := newRecord(id, models.RunComplete, base.Add(time.Duration(i)*time.Hour))
			require.NoError(t, store.PutRun(ctx, rec))
		}

		recs, err := store.ListRuns(ctx, persistence.WithLimit(2))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "run-c", recs[0].RunID)
		assert.Equal(t, "run-b", recs[1].RunID)
	})

	t.Run("ListFiltersStatusAndWindow", func(t *testing.T) {
		t.Parallel()
		store := New()

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.PutRun(ctx, newRecord("old-complete", models.RunComplete, base)))
		require.NoError(t, store.PutRun(ctx, newRecord("new-complete", models.RunComplete, base.Add(2*time.Hour))))
		require.NoError(t, store.PutRun(ctx, newRecord("new-running", models.RunRunning, base.Add(3*time.Hour))))

		recs, err := store.ListRuns(ctx,
			persistence.WithStatuses(models.RunComplete),
			persistence.WithFrom(base.Add(time.Hour)),
		)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "new-complete", recs[0].RunID)
	})
}

func TestStoreStepResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UpsertIsLastWriterWins", func(t *testing.T) {
		t.Parallel()
		store := New()

		first := &models.StepResult{RunID: "run-1", StepName: "planner", Confidence: 0.4, RunCount: 1}
		require.NoError(t, store.PutStepResult(ctx, first))
		second := &models.StepResult{RunID: "run-1", StepName: "planner", Confidence: 0.9, RunCount: 2}
		require.NoError(t, store.PutStepResult(ctx, second))

		got, err := store.GetStepResult(ctx, "run-1", "planner")
		require.NoError(t, err)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Equal(t, 2, got.RunCount)
	})

	t.Run("DeleteMissingIsNotAnError", func(t *testing.T) {
		t.Parallel()
		store := New()

		require.NoError(t, store.DeleteStepResult(ctx, "run-1", "never-stored"))
	})

	t.Run("ListSortedByStepName", func(t *testing.T) {
		t.Parallel()
		store := New()

		for _, name := range []string{"validation", "budget", "planner"} {
			res := &models.StepResult{RunID: "run-1", StepName: name, RunCount: 1}
			require.NoError(t, store.PutStepResult(ctx, res))
		}

		results, err := store.ListStepResults(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "budget", results[0].StepName)
		assert.Equal(t, "planner", results[1].StepName)
		assert.Equal(t, "validation", results[2].StepName)
	})
}

func TestStoreRemoveOldRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()

	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, store.PutRun(ctx, newRecord("stale", models.RunComplete, old)))
	require.NoError(t, store.PutStepResult(ctx, &models.StepResult{RunID: "stale", StepName: "planner", RunCount: 1}))
	require.NoError(t, store.PutRun(ctx, newRecord("stale-running", models.RunRunning, old)))
	require.NoError(t, store.PutRun(ctx, newRecord("fresh", models.RunComplete, time.Now().UTC())))

	// Negative retention disables the sweep entirely.
	require.NoError(t, store.RemoveOldRuns(ctx, -1))
	_, err := store.GetRun(ctx, "stale")
	require.NoError(t, err)

	require.NoError(t, store.RemoveOldRuns(ctx, 30))

	_, err = store.GetRun(ctx, "stale")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = store.GetStepResult(ctx, "stale", "planner")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// Active runs survive no matter how old they are.
	_, err = store.GetRun(ctx, "stale-running")
	assert.NoError(t, err)
	_, err = store.GetRun(ctx, "fresh")
	assert.NoError(t, err)
}

func TestStoreClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Close())

	_, err := store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, persistence.ErrClosed)
	err = store.PutRun(ctx, newRecord("run-1", models.RunPending, time.Now().UTC()))
	assert.ErrorIs(t, err, persistence.ErrClosed)
	_, err = store.ListStepResults(ctx, "run-1")
	assert.ErrorIs(t, err, persistence.ErrClosed)
}
