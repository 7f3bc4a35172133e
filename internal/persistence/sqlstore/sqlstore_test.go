package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/persistence/sqlstore"
	_ "github.com/policity/policity/internal/persistence/sqlstore/drivers/sqlite" // Register SQL store drivers
)

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(runID string, status models.RunStatus, updated time.Time) *models.RunRecord {
	rec := models.NewRunRecord(runID, map[string]any{"location": "Main St", "issue_type": "pothole"}, []string{"planner", "report"})
	rec.Status = status
	rec.UpdatedAt = updated
	return rec
}

func TestSQLStoreRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("GetMissingRun", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		_, err := store.GetRun(ctx, "nope")
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("PutRunRoundTrip", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		rec := newRecord("run-1", models.RunRunning, time.Now().UTC())
		rec.StepStates["planner"] = models.StepCompleted
		require.NoError(t, store.PutRun(ctx, rec))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunRunning, got.Status)
		assert.Equal(t, "pothole", got.Inputs["issue_type"])
		assert.Equal(t, models.StepCompleted, got.StepStates["planner"])
		assert.Equal(t, models.StepPending, got.StepStates["report"])
	})

	t.Run("PutRunUpserts", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		rec := newRecord("run-1", models.RunRunning, time.Now().UTC())
		require.NoError(t, store.PutRun(ctx, rec))

		rec.Status = models.RunComplete
		rec.Progress = 100
		require.NoError(t, store.PutRun(ctx, rec))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunComplete, got.Status)
		assert.Equal(t, 100, got.Progress)

		recs, err := store.ListRuns(ctx)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("ListNewestFirstWithLimit", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, id := range []string{"run-a", "run-b", "run-c"} {
			require.NoError(t, store.PutRun(ctx, newRecord(id, models.RunComplete, base.Add(time.Duration(i)*time.Hour))))
		}

		recs, err := store.ListRuns(ctx, persistence.WithLimit(2))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "run-c", recs[0].RunID)
		assert.Equal(t, "run-b", recs[1].RunID)
	})

	t.Run("ListFiltersStatusAndWindow", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.PutRun(ctx, newRecord("old-complete", models.RunComplete, base)))
		require.NoError(t, store.PutRun(ctx, newRecord("new-complete", models.RunComplete, base.Add(2*time.Hour))))
		require.NoError(t, store.PutRun(ctx, newRecord("new-failed", models.RunFailed, base.Add(3*time.Hour))))

		recs, err := store.ListRuns(ctx,
			persistence.WithStatuses(models.RunComplete),
			persistence.WithFrom(base.Add(time.Hour)),
			persistence.WithTo(base.Add(4*time.Hour)),
		)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "new-complete", recs[0].RunID)
	})
}

func TestSQLStoreStepResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("RoundTripAndUpsert", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		first := &models.StepResult{
			RunID:      "run-1",
			StepName:   "planner",
			Output:     []byte(`{"plan":"resurface"}`),
			Confidence: 0.4,
			RunCount:   1,
			ExecutedAt: time.Now().UTC(),
		}
		require.NoError(t, store.PutStepResult(ctx, first))

		second := *first
		second.Confidence = 0.9
		second.RunCount = 2
		require.NoError(t, store.PutStepResult(ctx, &second))

		got, err := store.GetStepResult(ctx, "run-1", "planner")
		require.NoError(t, err)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Equal(t, 2, got.RunCount)
		assert.JSONEq(t, `{"plan":"resurface"}`, string(got.Output))

		results, err := store.ListStepResults(ctx, "run-1")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("DeleteClearsRecord", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		res := &models.StepResult{RunID: "run-1", StepName: "planner", RunCount: 1}
		require.NoError(t, store.PutStepResult(ctx, res))
		require.NoError(t, store.DeleteStepResult(ctx, "run-1", "planner"))

		_, err := store.GetStepResult(ctx, "run-1", "planner")
		require.ErrorIs(t, err, persistence.ErrNotFound)

		// Deleting again is idempotent.
		require.NoError(t, store.DeleteStepResult(ctx, "run-1", "planner"))
	})

	t.Run("ListSortedByStepName", func(t *testing.T) {
		t.Parallel()
		store := openStore(t)

		for _, name := range []string{"validation", "budget", "planner"} {
			require.NoError(t, store.PutStepResult(ctx, &models.StepResult{RunID: "run-1", StepName: name, RunCount: 1}))
		}
		require.NoError(t, store.PutStepResult(ctx, &models.StepResult{RunID: "run-2", StepName: "planner", RunCount: 1}))

		results, err := store.ListStepResults(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "budget", results[0].StepName)
		assert.Equal(t, "planner", results[1].StepName)
		assert.Equal(t, "validation", results[2].StepName)
	})
}

func TestSQLStoreRemoveOldRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)

	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, store.PutRun(ctx, newRecord("stale", models.RunComplete, old)))
	require.NoError(t, store.PutStepResult(ctx, &models.StepResult{RunID: "stale", StepName: "planner", RunCount: 1}))
	require.NoError(t, store.PutRun(ctx, newRecord("stale-running", models.RunRunning, old)))
	require.NoError(t, store.PutRun(ctx, newRecord("fresh", models.RunComplete, time.Now().UTC())))

	require.NoError(t, store.RemoveOldRuns(ctx, -1))
	_, err := store.GetRun(ctx, "stale")
	require.NoError(t, err)

	require.NoError(t, store.RemoveOldRuns(ctx, 30))

	_, err = store.GetRun(ctx, "stale")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = store.GetStepResult(ctx, "stale", "planner")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	_, err = store.GetRun(ctx, "stale-running")
	assert.NoError(t, err)
	_, err = store.GetRun(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSQLStoreUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := sqlstore.Open(context.Background(), "no-such-driver", "dsn")
	require.Error(t, err)
}
