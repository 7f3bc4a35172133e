package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/backoff"
	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/persistence/memstore"
	"github.com/policity/policity/internal/pipeline"
)

// fakeRunner counts executions and records every request it receives.
type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	requests []pipeline.StepRequest
	fn       func(ctx context.Context, req pipeline.StepRequest) (*pipeline.StepResponse, error)
}

func newFakeRunner(fn func(ctx context.Context, req pipeline.StepRequest) (*pipeline.StepResponse, error)) *fakeRunner {
	return &fakeRunner{fn: fn}
}

func (r *fakeRunner) Execute(ctx context.Context, req pipeline.StepRequest) (*pipeline.StepResponse, error) {
	r.mu.Lock()
	r.calls++
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.fn(ctx, req)
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRunner) lastRequest() pipeline.StepRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func okResponse(confidence float64) *pipeline.StepResponse {
	return &pipeline.StepResponse{
		Output:     json.RawMessage(`{"ok":true}`),
		Confidence: confidence,
	}
}

// staticRunner always answers with the same confidence.
func staticRunner(confidence float64) *fakeRunner {
	return newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		return okResponse(confidence), nil
	})
}

// seqRunner answers call n with the nth confidence, repeating the last
// one when calls run past the sequence.
func seqRunner(confidences ...float64) *fakeRunner {
	var n int
	var mu sync.Mutex
	return newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		mu.Lock()
		i := n
		if i >= len(confidences) {
			i = len(confidences) - 1
		}
		n++
		mu.Unlock()
		return okResponse(confidences[i]), nil
	})
}

// failingRunner fails every attempt.
func failingRunner(err error) *fakeRunner {
	return newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		return nil, err
	})
}

// eventRecorder collects progress events in publish order.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *eventRecorder) Publish(_ context.Context, event models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(typ models.EventType) int {
	var n int
	for _, ev := range r.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// testPipeline assembles a graph of fake runners over an in-memory store.
type testPipeline struct {
	store  persistence.Store
	specs  []pipeline.StepSpec
	events *eventRecorder
}

func newTestPipeline() *testPipeline {
	return &testPipeline{
		store:  memstore.New(),
		events: &eventRecorder{},
	}
}

func (p *testPipeline) addStep(name string, runner pipeline.StepRunner, depends ...string) {
	p.specs = append(p.specs, pipeline.StepSpec{Name: name, Depends: depends, Runner: runner})
}

func (p *testPipeline) orchestrator(t *testing.T, opts ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	graph, err := pipeline.NewDependencyGraph(p.specs...)
	require.NoError(t, err)

	base := []pipeline.Option{
		pipeline.WithNotifier(p.events),
		pipeline.WithStepTimeout(5 * time.Second),
		pipeline.WithPersistBackoff(&backoff.ConstantBackoffPolicy{
			Interval:   time.Millisecond,
			MaxRetries: 2,
		}),
	}
	return pipeline.New(p.store, graph, append(base, opts...)...)
}

func (p *testPipeline) stepResult(t *testing.T, runID, stepName string) *models.StepResult {
	t.Helper()
	res, err := p.store.GetStepResult(context.Background(), runID, stepName)
	require.NoError(t, err)
	return res
}

func (p *testPipeline) runRecord(t *testing.T, runID string) *models.RunRecord {
	t.Helper()
	rec, err := p.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	return rec
}

func TestRunCacheHit(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.9)
	b := staticRunner(0.8)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	orc := p.orchestrator(t)
	ctx := context.Background()

	first, err := orc.Run(ctx, pipeline.RunRequest{
		RunID:  "run-1",
		Inputs: map[string]any{"city": "north"},
	})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, first.Status)
	require.Equal(t, []string{"a", "b"}, first.StepsExecuted)
	require.Equal(t, 1, a.callCount())
	require.Equal(t, 1, b.callCount())

	second, err := orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, a.callCount(), "cached run must not invoke runners")
	assert.Equal(t, 1, b.callCount(), "cached run must not invoke runners")
	assert.Equal(t, first, second)
}

func TestRunForceRefreshIsolation(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.9)
	b := staticRunner(0.9)
	c := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	p.addStep("c", c, "a")
	orc := p.orchestrator(t)
	ctx := context.Background()

	_, err := orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	result, err := orc.Run(ctx, pipeline.RunRequest{
		RunID:        "run-1",
		ForceRefresh: []string{"b"},
	})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, result.Status)

	assert.Equal(t, 1, a.callCount(), "step outside the refresh set must not rerun")
	assert.Equal(t, 2, b.callCount())
	assert.Equal(t, 1, c.callCount(), "step outside the refresh set must not rerun")
	assert.Equal(t, []string{"b"}, result.StepsExecuted)
	assert.ElementsMatch(t, []string{"a", "c"}, result.StepsSkipped)

	// A step with no persisted result reruns even outside the refresh set.
	require.NoError(t, p.store.DeleteStepResult(ctx, "run-1", "c"))
	_, err = orc.Run(ctx, pipeline.RunRequest{
		RunID:        "run-1",
		ForceRefresh: []string{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 3, b.callCount())
	assert.Equal(t, 2, c.callCount())
}

func TestRunPartialFailureTolerance(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.9)
	b := failingRunner(errors.New("lookup service down"))
	c := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	p.addStep("c", c, "b")
	orc := p.orchestrator(t)

	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err, "a failing step must not fail the run")
	require.Equal(t, models.RunComplete, result.Status)

	assert.Equal(t, 3, b.callCount(), "hard failures consume the full attempt budget")
	assert.Equal(t, 1, c.callCount(), "downstream of a failed step still executes")

	upstream := c.lastRequest().Upstream
	require.Contains(t, upstream, "b")
	assert.True(t, upstream["b"].Unavailable, "failed dependency arrives as a missing-data marker")
	assert.Empty(t, upstream["b"].Output)

	assert.Equal(t, []string{"b"}, result.StepsFailed)
	assert.Equal(t, models.SectionUnavailable, result.Sections["b"].Status)
	assert.True(t, result.Disclaimer)

	stored := p.stepResult(t, "run-1", "b")
	assert.Equal(t, models.StepResultFailed, stored.Status)
	assert.Equal(t, 1, stored.RunCount)
	assert.Contains(t, stored.Error, "lookup service down")
}

func TestRunConfidenceBoundary(t *testing.T) {
	t.Parallel()

	t.Run("ExactlyAtThreshold", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline()
		a := staticRunner(0.6)
		p.addStep("a", a)
		orc := p.orchestrator(t)

		result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, 1, a.callCount(), "confidence at the threshold is accepted without retry")
		assert.False(t, result.Disclaimer)
		assert.Equal(t, models.SectionOK, result.Sections["a"].Status)
	})

	t.Run("JustBelowThreshold", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline()
		a := staticRunner(0.59)
		p.addStep("a", a)
		orc := p.orchestrator(t)

		result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, 3, a.callCount(), "threshold-epsilon retries exactly maxRetries times")
		assert.True(t, result.Disclaimer)
		assert.Equal(t, models.SectionDegraded, result.Sections["a"].Status)
		assert.InDelta(t, 0.59, result.Sections["a"].Confidence, 1e-9)

		stored := p.stepResult(t, "run-1", "a")
		assert.True(t, stored.Degraded)
		assert.Equal(t, models.StepResultCompleted, stored.Status)
	})

	t.Run("InjectedThreshold", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline()
		a := staticRunner(0.79)
		p.addStep("a", a)
		orc := p.orchestrator(t, pipeline.WithRetryPolicy(pipeline.RetryPolicy{
			AcceptanceThreshold: 0.8,
			MaxRetries:          1,
		}))

		result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, 2, a.callCount())
		assert.True(t, result.Disclaimer)
	})

	t.Run("BestSeenWins", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline()
		a := seqRunner(0.2, 0.5, 0.3)
		p.addStep("a", a)
		orc := p.orchestrator(t)

		result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, 3, a.callCount())
		assert.InDelta(t, 0.5, result.Sections["a"].Confidence, 1e-9, "degraded step keeps the best attempt")
	})

	t.Run("RecoversAfterFailedAttempt", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline()
		var calls int
		var mu sync.Mutex
		a := newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return okResponse(0.9), nil
		})
		p.addStep("a", a)
		orc := p.orchestrator(t)

		result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, 2, a.callCount())
		assert.False(t, result.Disclaimer)
		assert.Equal(t, models.SectionOK, result.Sections["a"].Status)
	})
}

func TestRunBatchConcurrency(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	aEntered := make(chan struct{})
	bEntered := make(chan struct{})
	overlap := func(own chan struct{}, other <-chan struct{}) *fakeRunner {
		return newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
			close(own)
			select {
			case <-other:
				return okResponse(0.9), nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("peer step never started")
			}
		})
	}
	a := overlap(aEntered, bEntered)
	b := overlap(bEntered, aEntered)
	c := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b)
	p.addStep("c", c, "a", "b")
	orc := p.orchestrator(t, pipeline.WithRetryPolicy(pipeline.RetryPolicy{
		AcceptanceThreshold: 0.6,
		MaxRetries:          0,
	}))

	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, result.Status)
	require.Empty(t, result.StepsFailed, "batch peers must overlap in flight")

	upstream := c.lastRequest().Upstream
	assert.False(t, upstream["a"].Unavailable)
	assert.False(t, upstream["b"].Unavailable)

	// The downstream step starts only after both peers terminated.
	var cStarted, aDone, bDone int
	for i, ev := range p.events.all() {
		switch {
		case ev.Type == models.EventStepStarted && ev.StepName == "c":
			cStarted = i
		case ev.Type == models.EventStepComplete && ev.StepName == "a":
			aDone = i
		case ev.Type == models.EventStepComplete && ev.StepName == "b":
			bDone = i
		}
	}
	assert.Greater(t, cStarted, aDone)
	assert.Greater(t, cStarted, bDone)
}

func TestRunMutualExclusion(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		time.Sleep(100 * time.Millisecond)
		return okResponse(0.9), nil
	})
	p.addStep("a", a)
	orc := p.orchestrator(t)

	var wg sync.WaitGroup
	results := make([]*models.RunResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, a.callCount(), "concurrent calls must execute each step once")
	assert.Equal(t, results[0], results[1])

	stored := p.stepResult(t, "run-1", "a")
	assert.Equal(t, 1, stored.RunCount)
}

func TestRunRefreshScenario(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.9)
	b := staticRunner(0.9)
	c := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	p.addStep("c", c, "a")
	orc := p.orchestrator(t)
	ctx := context.Background()

	// First call executes everything once.
	result, err := orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, result.Status)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, p.stepResult(t, "run-1", name).RunCount, name)
	}

	// Second call is a pure cache hit.
	_, err = orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
	assert.Equal(t, 1, c.callCount())

	// Refreshing b reruns only b and bumps only its run count.
	result, err = orc.Run(ctx, pipeline.RunRequest{RunID: "run-1", ForceRefresh: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 2, b.callCount())
	assert.Equal(t, 1, c.callCount())
	assert.Equal(t, 1, p.stepResult(t, "run-1", "a").RunCount)
	assert.Equal(t, 2, p.stepResult(t, "run-1", "b").RunCount)
	assert.Equal(t, 1, p.stepResult(t, "run-1", "c").RunCount)
	assert.Equal(t, []string{"b"}, result.StepsExecuted)

	assert.Equal(t, 2, p.events.count(models.EventStepSkipped))
}

func TestRunDegradedUpstreamStillFlows(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.3)
	b := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	orc := p.orchestrator(t, pipeline.WithRetryPolicy(pipeline.RetryPolicy{
		AcceptanceThreshold: 0.6,
		MaxRetries:          0,
	}))

	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, result.Status)

	upstream := b.lastRequest().Upstream
	require.Contains(t, upstream, "a")
	assert.True(t, upstream["a"].Degraded)
	assert.False(t, upstream["a"].Unavailable)
	assert.NotEmpty(t, upstream["a"].Output, "degraded output still flows downstream")

	assert.Equal(t, models.SectionDegraded, result.Sections["a"].Status)
	assert.True(t, result.Disclaimer)
}

func TestRunCountAcrossInvocations(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := staticRunner(0.9)
	b := staticRunner(0.4)
	p.addStep("a", a)
	p.addStep("b", b)
	orc := p.orchestrator(t, pipeline.WithRetryPolicy(pipeline.RetryPolicy{
		AcceptanceThreshold: 0.6,
		MaxRetries:          0,
	}))
	ctx := context.Background()

	_, err := orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.stepResult(t, "run-1", "a").RunCount)
	assert.Equal(t, 1, p.stepResult(t, "run-1", "b").RunCount)

	// Refreshing a triggers a new pass. b's degraded result sits below the
	// threshold, so the pass recomputes it too and both counters climb;
	// the counter survives the forced deletion of a's result.
	_, err = orc.Run(ctx, pipeline.RunRequest{RunID: "run-1", ForceRefresh: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, a.callCount())
	assert.Equal(t, 2, b.callCount())
	assert.Equal(t, 2, p.stepResult(t, "run-1", "a").RunCount)
	assert.Equal(t, 2, p.stepResult(t, "run-1", "b").RunCount)
}

func TestRunProgressEvents(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	p.addStep("a", staticRunner(0.9))
	p.addStep("b", staticRunner(0.9), "a")
	orc := p.orchestrator(t)

	_, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	events := p.events.all()
	require.Len(t, events, 5)

	assert.Equal(t, models.EventStepStarted, events[0].Type)
	assert.Equal(t, "a", events[0].StepName)
	assert.Equal(t, 0, events[0].ProgressPercent)

	assert.Equal(t, models.EventStepComplete, events[1].Type)
	assert.Equal(t, 50, events[1].ProgressPercent)

	assert.Equal(t, models.EventStepStarted, events[2].Type)
	assert.Equal(t, "b", events[2].StepName)

	assert.Equal(t, models.EventStepComplete, events[3].Type)
	assert.Equal(t, 100, events[3].ProgressPercent)

	assert.Equal(t, models.EventRunComplete, events[4].Type)
	assert.Equal(t, 100, events[4].ProgressPercent)
	assert.Empty(t, events[4].StepName)

	rec := p.runRecord(t, "run-1")
	assert.Equal(t, models.RunComplete, rec.Status)
	assert.Equal(t, 100, rec.Progress)
}

func TestRunInvalidRequest(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	p.addStep("a", staticRunner(0.9))
	orc := p.orchestrator(t)
	ctx := context.Background()

	_, err := orc.Run(ctx, pipeline.RunRequest{})
	require.ErrorIs(t, err, pipeline.ErrInvalidRequest)

	_, err = orc.Run(ctx, pipeline.RunRequest{RunID: "run-1", ForceRefresh: []string{"ghost"}})
	require.ErrorIs(t, err, pipeline.ErrInvalidRequest)

	// Nothing was persisted for either request.
	_, err = p.store.GetRun(ctx, "run-1")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

// faultStore wraps a working store and injects failures per operation.
type faultStore struct {
	persistence.Store

	mu             sync.Mutex
	failPutResult  bool
	putResultCalls int
}

func (s *faultStore) PutStepResult(ctx context.Context, res *models.StepResult) error {
	s.mu.Lock()
	s.putResultCalls++
	fail := s.failPutResult
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.Store.PutStepResult(ctx, res)
}

func TestRunPersistenceFailureFailsRun(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	fs := &faultStore{Store: p.store, failPutResult: true}
	p.store = fs
	p.addStep("a", staticRunner(0.9))
	orc := p.orchestrator(t)

	_, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.ErrorIs(t, err, pipeline.ErrPersistFailed)

	rec := p.runRecord(t, "run-1")
	assert.Equal(t, models.RunFailed, rec.Status)
	assert.NotEmpty(t, rec.FailReason)

	fs.mu.Lock()
	calls := fs.putResultCalls
	fs.mu.Unlock()
	assert.Greater(t, calls, 1, "persistence is retried with backoff before giving up")
}

func TestRunCancellationLeavesResumableState(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())

	a := staticRunner(0.9)
	bFailures := make(chan struct{}, 1)
	b := newFakeRunner(func(stepCtx context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		select {
		case bFailures <- struct{}{}:
			// First call belongs to the canceled run.
			cancel()
			<-stepCtx.Done()
			return nil, stepCtx.Err()
		default:
			return okResponse(0.9), nil
		}
	})
	p.addStep("a", a)
	p.addStep("b", b, "a")
	orc := p.orchestrator(t)

	_, err := orc.Run(ctx, pipeline.RunRequest{RunID: "run-1"})
	require.ErrorIs(t, err, context.Canceled)

	// Work done before the cancellation is still on record.
	stored := p.stepResult(t, "run-1", "a")
	assert.Equal(t, 1, stored.RunCount)

	rec := p.runRecord(t, "run-1")
	assert.Equal(t, models.RunRunning, rec.Status, "a canceled run stays resumable")

	// The next invocation resumes: a is reused, b executes.
	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, result.Status)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 2, b.callCount())
	assert.Equal(t, []string{"a"}, result.StepsSkipped)
}

func TestRunRecoversFromPanickingRunner(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := newFakeRunner(func(_ context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		panic("runner exploded")
	})
	b := staticRunner(0.9)
	p.addStep("a", a)
	p.addStep("b", b, "a")
	orc := p.orchestrator(t)

	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err, "a panicking step must not crash the run")
	require.Equal(t, models.RunComplete, result.Status)

	assert.Equal(t, 3, a.callCount(), "panics consume attempts like failures")
	assert.Equal(t, []string{"a"}, result.StepsFailed)
	assert.Contains(t, p.stepResult(t, "run-1", "a").Error, "runner exploded")
	assert.True(t, b.lastRequest().Upstream["a"].Unavailable)
}

func TestRunStepTimeout(t *testing.T) {
	t.Parallel()

	p := newTestPipeline()
	a := newFakeRunner(func(ctx context.Context, _ pipeline.StepRequest) (*pipeline.StepResponse, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return okResponse(0.9), nil
		}
	})
	p.addStep("a", a)
	orc := p.orchestrator(t,
		pipeline.WithStepTimeout(10*time.Millisecond),
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{AcceptanceThreshold: 0.6, MaxRetries: 0}),
	)

	result, err := orc.Run(context.Background(), pipeline.RunRequest{RunID: "run-1"})
	require.NoError(t, err, "a timed-out step degrades instead of failing the run")
	require.Equal(t, models.RunComplete, result.Status)
	assert.Equal(t, []string{"a"}, result.StepsFailed)
	assert.Equal(t, models.SectionUnavailable, result.Sections["a"].Status)
}
