package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/notify"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// API implements the /api/v1 handlers over the persistence store and the
// orchestrator. The graph is consulted for request validation and for
// replaying step order on the event stream.
type API struct {
	store  persistence.Store
	orch   *pipeline.Orchestrator
	graph  *pipeline.DependencyGraph
	events *notify.Broadcaster

	// baseCtx detaches background runs from their submitting request.
	// Serve points it at the server context so shutdown stops them
	// between steps; the run stays resumable under its run ID.
	baseCtx context.Context
}

func newAPI(store persistence.Store, orch *pipeline.Orchestrator, graph *pipeline.DependencyGraph, events *notify.Broadcaster) *API {
	return &API{
		store:   store,
		orch:    orch,
		graph:   graph,
		events:  events,
		baseCtx: context.Background(),
	}
}

// Routes mounts the API handlers under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", a.handleCreateRun)
		r.Get("/runs", a.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", a.handleGetRun)
			r.Get("/result", a.handleGetResult)
			r.Get("/events", a.handleEvents)
			r.Post("/refresh", a.handleRefresh)
		})
	})
}

type createRunRequest struct {
	RunID        string         `json:"runId"`
	Inputs       map[string]any `json:"inputs"`
	ForceRefresh []string       `json:"forceRefresh,omitempty"`
}

type refreshRequest struct {
	Steps []string `json:"steps"`
}

type listRunsResponse struct {
	Runs []*models.RunRecord `json:"runs"`
}

// handleCreateRun accepts a run for execution and responds immediately
// with the run record. Execution happens in the background; progress is
// observable through the record, the result endpoint and the event
// stream. Resubmitting a run ID is safe: the per-run lock serializes
// executions and a finished run is served from its persisted results.
func (a *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", fmt.Errorf("decoding request body: %w", err))
		return
	}

	runID := req.RunID
	if runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("generating run ID: %w", err))
			return
		}
		runID = id.String()
	}

	force := lo.Uniq(req.ForceRefresh)
	if err := a.checkSteps(force); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := r.Context()
	rec, err := a.store.GetRun(ctx, runID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		rec = models.NewRunRecord(runID, req.Inputs, a.graph.StepNames())
		if err := a.store.PutRun(ctx, rec); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	// Inputs are recorded on first submission; later submissions of the
	// same run ID keep the original ones.
	go a.executeRun(runID, rec.Inputs, force)

	writeJSON(w, http.StatusAccepted, rec)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(parsed, maxListLimit)
	}

	recs, err := a.store.ListRuns(r.Context(), persistence.WithLimit(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if recs == nil {
		recs = []*models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: recs})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rec, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		a.writeLookupError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleGetResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	res, err := a.orch.Result(r.Context(), runID)
	if err != nil {
		a.writeLookupError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRefresh re-runs the named steps of an existing run, discarding
// their cached results. The rest of the run is served from cache.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", fmt.Errorf("decoding request body: %w", err))
		return
	}

	steps := lo.Uniq(req.Steps)
	if len(steps) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("at least one step is required"))
		return
	}
	if err := a.checkSteps(steps); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	rec, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		a.writeLookupError(w, runID, err)
		return
	}

	go a.executeRun(runID, rec.Inputs, steps)

	writeJSON(w, http.StatusAccepted, rec)
}

// executeRun drives one background execution pass. Failures here are
// already reflected on the run record; they are logged, not surfaced.
func (a *API) executeRun(runID string, inputs map[string]any, force []string) {
	ctx := a.baseCtx
	_, err := a.orch.Run(ctx, pipeline.RunRequest{
		RunID:        runID,
		Inputs:       inputs,
		ForceRefresh: force,
	})
	if err != nil {
		logger.Error(ctx, "Background run failed", "run_id", runID, "err", err)
	}
}

// checkSteps validates step names against the pipeline graph.
func (a *API) checkSteps(names []string) error {
	for _, name := range names {
		if _, err := a.graph.Spec(name); err != nil {
			return fmt.Errorf("unknown step %q", name)
		}
	}
	return nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, apiError{Code: code, Message: err.Error()})
}

// writeLookupError maps store and orchestrator lookup failures onto
// HTTP statuses.
func (a *API) writeLookupError(w http.ResponseWriter, runID string, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("run %q not found", runID))
	case errors.Is(err, pipeline.ErrRunNotComplete):
		writeError(w, http.StatusNotFound, "run_not_complete", err)
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
