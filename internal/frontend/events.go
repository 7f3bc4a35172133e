package frontend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/policity/policity/internal/models"
)

// handleEvents streams a run's progress events over a websocket. On
// connect the current state is replayed as synthetic events in pipeline
// order, so a late or reconnecting client rebuilds the same picture a
// live one accumulated. The stream ends with run_complete.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		a.writeLookupError(w, runID, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin enforcement happens in the cors middleware for the rest
		// of the API; the stream carries no credentials.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	// The stream is write-only. CloseRead discards client frames and
	// cancels the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// Subscribe before snapshotting the record so nothing lands in the
	// gap between the two. A duplicated event is harmless to clients.
	ch, cancel := a.events.Subscribe(ctx, runID)
	defer cancel()

	rec, err := a.store.GetRun(ctx, runID)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "run lookup failed")
		return
	}

	if done := a.replayState(ctx, conn, rec); done {
		_ = conn.Close(websocket.StatusNormalClosure, "run complete")
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "client gone")
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := sendEvent(ctx, conn, ev); err != nil {
				return
			}
			if ev.Type == models.EventRunComplete {
				_ = conn.Close(websocket.StatusNormalClosure, "run complete")
				return
			}
		}
	}
}

// replayState emits synthetic events for every step that already started
// or finished, in pipeline order. It reports true when the run itself is
// finished and the stream should close after the final event.
func (a *API) replayState(ctx context.Context, conn *websocket.Conn, rec *models.RunRecord) bool {
	progress := rec.ComputeProgress()
	for _, name := range a.graph.StepNames() {
		typ, ok := eventForState(rec.StepStates[name])
		if !ok {
			continue
		}
		ev := models.NewProgressEvent(typ, rec.RunID, name, progress)
		if err := sendEvent(ctx, conn, ev); err != nil {
			return true
		}
	}

	if rec.Status == models.RunComplete || rec.Status == models.RunFailed {
		ev := models.NewProgressEvent(models.EventRunComplete, rec.RunID, "", progress)
		_ = sendEvent(ctx, conn, ev)
		return true
	}
	return false
}

func eventForState(state models.StepState) (models.EventType, bool) {
	switch state {
	case models.StepRunning:
		return models.EventStepStarted, true
	case models.StepCompleted:
		return models.EventStepComplete, true
	case models.StepSkipped:
		return models.EventStepSkipped, true
	case models.StepFailed:
		return models.EventStepFailed, true
	default:
		return "", false
	}
}

func sendEvent(ctx context.Context, conn *websocket.Conn, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
