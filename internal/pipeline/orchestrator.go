// Package pipeline implements the report pipeline core: a validated DAG
// of steps executed with bounded concurrency, results persisted per run
// identity, confidence-gated retries, and per-run serialization. Steps
// degrade rather than abort; a run fails only when it cannot be
// scheduled or its results cannot be durably recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/policity/policity/internal/backoff"
	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
)

// Defaults for the scheduling knobs. All of them are injectable through
// options.
const (
	DefaultMaxConcurrentSteps = 4
	DefaultStepTimeout        = 5 * time.Minute
)

const tracerName = "github.com/policity/policity"

var (
	// ErrInvalidRequest marks a structurally invalid run request. Nothing
	// executes and nothing is persisted.
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrPersistFailed marks a run aborted because its results could not
	// be durably recorded even after backoff retries.
	ErrPersistFailed = errors.New("result persistence failed")

	// ErrRunNotComplete is returned by Result for runs that have not
	// finished yet.
	ErrRunNotComplete = errors.New("run not complete")
)

// RunRequest identifies one pipeline invocation.
type RunRequest struct {
	// RunID is the caller-supplied run identity; all results persist
	// under it.
	RunID string

	// Inputs are the request parameters. They are recorded on first use
	// of a run ID and immutable afterwards.
	Inputs map[string]any

	// ForceRefresh names steps whose cached results are discarded and
	// recomputed.
	ForceRefresh []string
}

// Orchestrator schedules runs of the step graph: it reuses persisted
// results where their confidence allows, executes the rest in
// topological batches, and serializes execution per run ID.
type Orchestrator struct {
	store       persistence.Store
	graph       *DependencyGraph
	retryPolicy RetryPolicy
	notifier    Notifier
	metrics     Metrics
	tracer      trace.Tracer

	maxConcurrentSteps int
	stepTimeout        time.Duration
	persistPolicy      backoff.RetryPolicy

	locks *runLocks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy overrides the confidence gates.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retryPolicy = p
	}
}

// WithNotifier sets the progress event sink.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics sets the execution metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMaxConcurrentSteps bounds how many steps of one batch run at once.
func WithMaxConcurrentSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrentSteps = n
		}
	}
}

// WithStepTimeout bounds each step execution attempt. Zero disables the
// per-attempt deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = d
	}
}

// WithPersistBackoff overrides the backoff applied to store operations.
func WithPersistBackoff(p backoff.RetryPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.persistPolicy = p
		}
	}
}

// New creates an orchestrator over the given store and graph.
func New(store persistence.Store, graph *DependencyGraph, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:              store,
		graph:              graph,
		retryPolicy:        DefaultRetryPolicy(),
		notifier:           NopNotifier{},
		metrics:            nopMetrics{},
		tracer:             otel.Tracer(tracerName),
		maxConcurrentSteps: DefaultMaxConcurrentSteps,
		stepTimeout:        DefaultStepTimeout,
		persistPolicy:      defaultPersistPolicy(),
		locks:              newRunLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func defaultPersistPolicy() backoff.RetryPolicy {
	return &backoff.ExponentialBackoffPolicy{
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     5 * time.Second,
		MaxRetries:      3,
	}
}

// runState is the shared mutable state of one execution pass. The record
// and the result map are mutated by concurrent step goroutines under mu;
// batches are sequential, so downstream reads happen after the writers
// of the previous batch finished.
type runState struct {
	mu      sync.Mutex
	rec     *models.RunRecord
	results map[string]*models.StepResult
	forced  map[string]bool
	prior   map[string]int
}

// upstreamFor resolves the declared dependencies of a step from the
// results gathered so far. Callers must hold st.mu.
func (st *runState) upstreamFor(spec StepSpec) map[string]UpstreamOutput {
	upstream := make(map[string]UpstreamOutput, len(spec.Depends))
	for _, dep := range spec.Depends {
		res, ok := st.results[dep]
		if !ok || res.Status == models.StepResultFailed {
			upstream[dep] = UpstreamOutput{Unavailable: true}
			continue
		}
		upstream[dep] = UpstreamOutput{
			Output:     res.Output,
			Confidence: res.Confidence,
			Degraded:   res.Degraded,
		}
	}
	return upstream
}

// Run executes the pipeline for the request's run ID. Completed runs are
// served from persisted results without invoking any step; otherwise
// pending steps execute batch by batch and every outcome is persisted as
// it lands. Step failures degrade their section and never fail the run;
// only scheduling and persistence problems do.
//
// Cancelling ctx stops scheduling new steps and returns the context
// error. Results persisted up to that point stay; the run record remains
// in its running state and the next call for the same run ID resumes
// from the persisted results.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*models.RunResult, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: run ID is required", ErrInvalidRequest)
	}
	for _, name := range req.ForceRefresh {
		if _, err := o.graph.Spec(name); err != nil {
			return nil, fmt.Errorf("%w: force refresh references unknown step %q", ErrInvalidRequest, name)
		}
	}

	ctx, span := o.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", req.RunID),
	))
	defer span.End()

	// At most one execution per run ID. A concurrent caller blocks here
	// and usually lands on the cache path once the first pass finished.
	release, err := o.locks.Acquire(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := o.getRun(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("loading run %q: %w", req.RunID, err)
	}

	if rec != nil && rec.Status == models.RunComplete && len(req.ForceRefresh) == 0 {
		span.SetAttributes(attribute.Bool("run.cached", true))
		logger.Debug(ctx, "Serving run from persisted results", "run_id", req.RunID)
		return o.loadResult(ctx, rec)
	}

	if rec == nil {
		rec = models.NewRunRecord(req.RunID, req.Inputs, o.graph.StepNames())
	}
	for _, name := range o.graph.StepNames() {
		if _, ok := rec.StepStates[name]; !ok {
			rec.StepStates[name] = models.StepPending
		}
	}

	st := &runState{
		rec:     rec,
		results: make(map[string]*models.StepResult, o.graph.Len()),
		forced:  make(map[string]bool, len(req.ForceRefresh)),
		prior:   make(map[string]int, len(req.ForceRefresh)),
	}

	rec.Status = models.RunRunning
	rec.FailReason = ""
	rec.Touch()
	if err := o.putRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("run %q: %w: %w", req.RunID, ErrPersistFailed, err)
	}

	passStart := time.Now()
	o.metrics.RunStarted(req.RunID)
	logger.Info(ctx, "Run started",
		"run_id", req.RunID,
		"steps", o.graph.Len(),
		"force_refresh", len(req.ForceRefresh),
	)

	fail := func(err error) (*models.RunResult, error) {
		o.failRun(ctx, rec, err.Error())
		o.metrics.RunFinished(req.RunID, models.RunFailed.String(), time.Since(passStart))
		span.SetAttributes(attribute.String("run.status", models.RunFailed.String()))
		return nil, err
	}

	if err := o.applyForceRefresh(ctx, st, req.ForceRefresh); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return fail(err)
	}

	sem := make(chan struct{}, o.maxConcurrentSteps)
	for _, batch := range o.graph.Batches() {
		if err := ctx.Err(); err != nil {
			logger.Warn(ctx, "Run canceled; scheduling stopped", "run_id", req.RunID)
			return nil, err
		}
		if err := o.runBatch(ctx, st, batch, sem); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return fail(err)
		}
	}
	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "Run canceled; scheduling stopped", "run_id", req.RunID)
		return nil, err
	}

	rec.Status = models.RunComplete
	rec.Disclaimer = computeDisclaimer(st.results)
	rec.Progress = rec.ComputeProgress()
	rec.Touch()
	if err := o.putRun(ctx, rec); err != nil {
		return fail(fmt.Errorf("run %q: %w: %w", req.RunID, ErrPersistFailed, err))
	}

	result := o.buildResult(rec, st.results)
	o.notifier.Publish(ctx, models.NewProgressEvent(models.EventRunComplete, req.RunID, "", rec.Progress))
	o.metrics.RunFinished(req.RunID, rec.Status.String(), time.Since(passStart))
	span.SetAttributes(attribute.String("run.status", rec.Status.String()))
	logger.Info(ctx, "Run completed",
		"run_id", req.RunID,
		"executed", len(result.StepsExecuted),
		"skipped", len(result.StepsSkipped),
		"failed", len(result.StepsFailed),
		"disclaimer", result.Disclaimer,
	)
	return result, nil
}

// applyForceRefresh discards the named steps' persisted results before
// scheduling, snapshotting their run counts so a recomputed result keeps
// counting across refreshes.
func (o *Orchestrator) applyForceRefresh(ctx context.Context, st *runState, names []string) error {
	for _, name := range names {
		st.forced[name] = true
		st.rec.StepStates[name] = models.StepPending

		existing, err := o.getStepResult(ctx, st.rec.RunID, name)
		if err != nil {
			return fmt.Errorf("step %q: %w: %w", name, ErrPersistFailed, err)
		}
		if existing == nil {
			continue
		}
		st.prior[name] = existing.RunCount
		if err := o.deleteStepResult(ctx, st.rec.RunID, name); err != nil {
			return fmt.Errorf("step %q: %w: %w", name, ErrPersistFailed, err)
		}
		logger.Info(ctx, "Step result discarded for refresh",
			"run_id", st.rec.RunID,
			"step", name,
			"run_count", existing.RunCount,
		)
	}
	if len(names) == 0 {
		return nil
	}
	st.rec.Progress = st.rec.ComputeProgress()
	st.rec.Touch()
	if err := o.putRun(ctx, st.rec); err != nil {
		return fmt.Errorf("run %q: %w: %w", st.rec.RunID, ErrPersistFailed, err)
	}
	return nil
}

// runBatch executes one topological batch with bounded concurrency and
// returns the first fatal (persistence) error, if any. Step failures are
// not fatal; they land as failed results.
func (o *Orchestrator) runBatch(ctx context.Context, st *runState, batch []string, sem chan struct{}) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))

	for _, name := range batch {
		spec, _ := o.graph.Spec(name)
		wg.Add(1)
		go func(spec StepSpec) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := o.processStep(ctx, st, spec); err != nil {
				errCh <- err
			}
		}(spec)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// processStep takes one step through reuse, execution, and persistence.
// The returned error is fatal for the run; step-level failures are
// recorded as failed results and return nil.
func (o *Orchestrator) processStep(ctx context.Context, st *runState, spec StepSpec) error {
	runID := st.rec.RunID

	var existing *models.StepResult
	if !st.forced[spec.Name] {
		var err error
		existing, err = o.getStepResult(ctx, runID, spec.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("step %q: %w: %w", spec.Name, ErrPersistFailed, err)
		}
		if existing != nil && existing.Accepted(o.policyFor(spec).AcceptanceThreshold) {
			event, err := o.finishStep(ctx, st, existing, models.StepSkipped)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("step %q: %w: %w", spec.Name, ErrPersistFailed, err)
			}
			o.notifier.Publish(ctx, event)
			o.metrics.StepSkipped(spec.Name)
			logger.Info(ctx, "Step reused from persisted result",
				"run_id", runID,
				"step", spec.Name,
				"confidence", existing.Confidence,
			)
			return nil
		}
	}

	st.mu.Lock()
	st.rec.StepStates[spec.Name] = models.StepRunning
	upstream := st.upstreamFor(spec)
	progress := st.rec.Progress
	st.mu.Unlock()

	o.notifier.Publish(ctx, models.NewProgressEvent(models.EventStepStarted, runID, spec.Name, progress))
	logger.Info(ctx, "Step execution started", "run_id", runID, "step", spec.Name)

	started := time.Now()
	best, lastErr := o.executeWithRetries(ctx, st, spec, upstream)
	if best == nil && ctx.Err() != nil {
		// Canceled with nothing to record.
		return nil
	}

	var priorCount int
	switch {
	case st.forced[spec.Name]:
		priorCount = st.prior[spec.Name]
	case existing != nil:
		priorCount = existing.RunCount
	}

	res := &models.StepResult{
		RunID:      runID,
		StepName:   spec.Name,
		RunCount:   priorCount + 1,
		ExecutedAt: time.Now().UTC(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	state := models.StepCompleted
	if best != nil {
		res.Output = best.Output
		res.Confidence = best.Confidence
		res.Status = models.StepResultCompleted
		res.Degraded = best.Confidence < o.policyFor(spec).AcceptanceThreshold
		res.ModelUsed = best.ModelUsed
		res.TokensUsed = best.TokensUsed
	} else {
		res.Status = models.StepResultFailed
		res.Error = lastErr.Error()
		state = models.StepFailed
	}

	if err := o.putStepResult(ctx, res); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("step %q: %w: %w", spec.Name, ErrPersistFailed, err)
	}

	event, err := o.finishStep(ctx, st, res, state)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("step %q: %w: %w", spec.Name, ErrPersistFailed, err)
	}
	o.notifier.Publish(ctx, event)

	switch {
	case state == models.StepFailed:
		o.metrics.StepFailed(spec.Name)
		logger.Error(ctx, "Step failed after all attempts",
			"run_id", runID,
			"step", spec.Name,
			"run_count", res.RunCount,
			"err", lastErr,
		)
	case res.Degraded:
		o.metrics.StepExecuted(spec.Name, false, time.Since(started))
		logger.Warn(ctx, "Step accepted with low confidence",
			"run_id", runID,
			"step", spec.Name,
			"confidence", res.Confidence,
			"run_count", res.RunCount,
		)
	default:
		o.metrics.StepExecuted(spec.Name, true, time.Since(started))
		logger.Info(ctx, "Step completed",
			"run_id", runID,
			"step", spec.Name,
			"confidence", res.Confidence,
			"run_count", res.RunCount,
		)
	}
	return nil
}

// policyFor resolves the retry policy for one step, applying its
// threshold override when declared.
func (o *Orchestrator) policyFor(spec StepSpec) RetryPolicy {
	policy := o.retryPolicy
	if spec.Threshold != nil {
		policy.AcceptanceThreshold = *spec.Threshold
	}
	return policy
}

// executeWithRetries drives the attempt loop for one step. It returns
// the best response seen, or nil with the last error when every attempt
// failed hard. Low-confidence responses retry while the policy allows;
// once the budget is spent the best seen is returned even if a later
// attempt failed.
func (o *Orchestrator) executeWithRetries(ctx context.Context, st *runState, spec StepSpec, upstream map[string]UpstreamOutput) (*StepResponse, error) {
	policy := o.policyFor(spec)

	var best *StepResponse
	var lastErr error

	for attempt := 0; ; attempt++ {
		req := StepRequest{
			RunID:     st.rec.RunID,
			RunInputs: st.rec.Inputs,
			Upstream:  upstream,
			Attempt:   attempt,
		}

		resp, err := o.executeAttempt(ctx, spec, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return best, lastErr
			}
			if policy.ShouldRetryFailure(attempt) {
				o.metrics.StepRetried(spec.Name)
				logger.Warn(ctx, "Step attempt failed; retrying",
					"run_id", st.rec.RunID,
					"step", spec.Name,
					"attempt", attempt,
					"err", err,
				)
				continue
			}
			return best, lastErr
		}

		if best == nil || resp.Confidence > best.Confidence {
			best = resp
		}

		switch policy.Decide(resp.Confidence, attempt) {
		case DecisionRetry:
			o.metrics.StepRetried(spec.Name)
			logger.Info(ctx, "Confidence below threshold; retrying",
				"run_id", st.rec.RunID,
				"step", spec.Name,
				"attempt", attempt,
				"confidence", resp.Confidence,
			)
		case DecisionAccept, DecisionDegrade:
			return best, nil
		}
	}
}

// executeAttempt invokes the runner once under the per-step deadline.
// Panics in a runner are recovered and surface as a failed attempt.
func (o *Orchestrator) executeAttempt(ctx context.Context, spec StepSpec, req StepRequest) (resp *StepResponse, err error) {
	defer func() {
		if panicObj := recover(); panicObj != nil {
			stack := string(debug.Stack())
			err = fmt.Errorf("panic recovered: %v\n%s", panicObj, stack)
			resp = nil
			logger.Error(ctx, "Panic occurred in step runner", "step", spec.Name, "err", err)
		}
	}()

	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "step."+spec.Name, trace.WithAttributes(
		attribute.String("run.id", req.RunID),
		attribute.Int("step.attempt", req.Attempt),
	))
	defer span.End()

	resp, err = spec.Runner.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("step %q returned no response", spec.Name)
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	span.SetAttributes(attribute.Float64("step.confidence", resp.Confidence))
	return resp, nil
}

// finishStep records a step's terminal state on the run record, persists
// the record, and returns the progress event to publish. Record writes
// are serialized under st.mu so persisted progress never regresses.
func (o *Orchestrator) finishStep(ctx context.Context, st *runState, res *models.StepResult, state models.StepState) (models.ProgressEvent, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.results[res.StepName] = res
	st.rec.StepStates[res.StepName] = state
	if state == models.StepCompleted && res.Degraded {
		st.rec.Disclaimer = true
	}
	st.rec.Progress = st.rec.ComputeProgress()
	st.rec.Touch()

	if err := o.putRun(ctx, st.rec); err != nil {
		return models.ProgressEvent{}, err
	}

	var eventType models.EventType
	switch state {
	case models.StepSkipped:
		eventType = models.EventStepSkipped
	case models.StepFailed:
		eventType = models.EventStepFailed
	default:
		eventType = models.EventStepComplete
	}
	return models.NewProgressEvent(eventType, st.rec.RunID, res.StepName, st.rec.Progress), nil
}

// failRun marks the run failed with the reason and persists it
// best-effort.
func (o *Orchestrator) failRun(ctx context.Context, rec *models.RunRecord, reason string) {
	rec.Status = models.RunFailed
	rec.FailReason = reason
	rec.Progress = rec.ComputeProgress()
	rec.Touch()
	if err := o.putRun(ctx, rec); err != nil {
		logger.Error(ctx, "Failed to persist failed run record", "run_id", rec.RunID, "err", err)
	}
	logger.Error(ctx, "Run failed", "run_id", rec.RunID, "reason", reason)
}

// buildResult assembles the caller-facing aggregate from the record and
// the per-step results. Section and list order follow the graph's step
// order so repeated calls return identical aggregates.
func (o *Orchestrator) buildResult(rec *models.RunRecord, results map[string]*models.StepResult) *models.RunResult {
	out := &models.RunResult{
		RunID:      rec.RunID,
		Status:     rec.Status,
		Sections:   make(map[string]models.Section, o.graph.Len()),
		Disclaimer: rec.Disclaimer,
		Progress:   rec.Progress,
	}
	for _, name := range o.graph.StepNames() {
		res, ok := results[name]
		if !ok {
			out.Sections[name] = models.Section{Status: models.SectionUnavailable}
		} else {
			section := models.Section{
				Status:     res.SectionStatus(),
				Confidence: res.Confidence,
			}
			if res.Status == models.StepResultCompleted {
				section.Output = res.Output
			}
			out.Sections[name] = section
		}

		switch rec.StepStates[name] {
		case models.StepCompleted:
			out.StepsExecuted = append(out.StepsExecuted, name)
		case models.StepSkipped:
			out.StepsSkipped = append(out.StepsSkipped, name)
		case models.StepFailed:
			out.StepsFailed = append(out.StepsFailed, name)
		}
	}
	return out
}

// Result returns the persisted aggregate of a completed run without
// executing anything. It reports persistence.ErrNotFound for unknown run
// IDs and ErrRunNotComplete while the run is still pending or running,
// or when it failed before producing a full aggregate.
func (o *Orchestrator) Result(ctx context.Context, runID string) (*models.RunResult, error) {
	rec, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %q: %w", runID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("run %q: %w", runID, persistence.ErrNotFound)
	}
	if rec.Status != models.RunComplete {
		return nil, fmt.Errorf("run %q is %s: %w", runID, rec.Status, ErrRunNotComplete)
	}
	return o.loadResult(ctx, rec)
}

// loadResult rebuilds the aggregate for a completed run from the store.
func (o *Orchestrator) loadResult(ctx context.Context, rec *models.RunRecord) (*models.RunResult, error) {
	stored, err := o.listStepResults(ctx, rec.RunID)
	if err != nil {
		return nil, fmt.Errorf("loading results for run %q: %w", rec.RunID, err)
	}
	results := make(map[string]*models.StepResult, len(stored))
	for _, res := range stored {
		results[res.StepName] = res
	}
	return o.buildResult(rec, results), nil
}

func computeDisclaimer(results map[string]*models.StepResult) bool {
	for _, res := range results {
		if res.Degraded || res.Status == models.StepResultFailed {
			return true
		}
	}
	return false
}

// Store access helpers. All store calls go through bounded backoff;
// not-found is a result, not a retriable error.

func (o *Orchestrator) getRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var rec *models.RunRecord
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var err error
		rec, err = o.store.GetRun(ctx, runID)
		return err
	}, o.persistPolicy, notFoundIsFinal)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (o *Orchestrator) putRun(ctx context.Context, rec *models.RunRecord) error {
	return backoff.Retry(ctx, func(ctx context.Context) error {
		return o.store.PutRun(ctx, rec)
	}, o.persistPolicy, nil)
}

func (o *Orchestrator) getStepResult(ctx context.Context, runID, stepName string) (*models.StepResult, error) {
	var res *models.StepResult
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.store.GetStepResult(ctx, runID, stepName)
		return err
	}, o.persistPolicy, notFoundIsFinal)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) putStepResult(ctx context.Context, res *models.StepResult) error {
	return backoff.Retry(ctx, func(ctx context.Context) error {
		return o.store.PutStepResult(ctx, res)
	}, o.persistPolicy, nil)
}

func (o *Orchestrator) deleteStepResult(ctx context.Context, runID, stepName string) error {
	return backoff.Retry(ctx, func(ctx context.Context) error {
		return o.store.DeleteStepResult(ctx, runID, stepName)
	}, o.persistPolicy, nil)
}

func (o *Orchestrator) listStepResults(ctx context.Context, runID string) ([]*models.StepResult, error) {
	var results []*models.StepResult
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var err error
		results, err = o.store.ListStepResults(ctx, runID)
		return err
	}, o.persistPolicy, nil)
	return results, err
}

func notFoundIsFinal(err error) bool {
	return !errors.Is(err, persistence.ErrNotFound)
}
