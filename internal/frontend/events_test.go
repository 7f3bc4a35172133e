package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/pipeline"
)

func wsURL(httpURL, runID string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/api/v1/runs/" + runID + "/events"
}

// readUntilComplete drains the stream until the run-complete event and
// returns every event received.
func readUntilComplete(t *testing.T, ctx context.Context, conn *websocket.Conn) []models.ProgressEvent {
	t.Helper()

	var events []models.ProgressEvent
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var ev models.ProgressEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)

		if ev.Type == models.EventRunComplete {
			return events
		}
	}
}

func TestEventsStreamLiveRun(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	const runID = "live-events-run"

	resp := postJSON(t, srv.URL+"/api/v1/runs", map[string]any{
		"runId":  runID,
		"inputs": map[string]any{"location": "Cedar Ave"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = decodeBody[models.RunRecord](t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, runID), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	events := readUntilComplete(t, ctx, conn)

	// Between replay and the live tail, every step must surface at least
	// once with a terminal event before the stream ends.
	seen := make(map[string]bool)
	for _, ev := range events {
		switch ev.Type {
		case models.EventStepComplete, models.EventStepSkipped, models.EventStepFailed:
			seen[ev.StepName] = true
		}
		assert.Equal(t, runID, ev.RunID)
	}
	assert.Len(t, seen, 7)
	assert.Equal(t, models.EventRunComplete, events[len(events)-1].Type)
}

func TestEventsReplayCompletedRun(t *testing.T) {
	t.Parallel()

	srv, api, _ := newTestServer(t)
	const runID = "replayed-run"

	_, err := api.orch.Run(context.Background(), pipeline.RunRequest{
		RunID:  runID,
		Inputs: map[string]any{"location": "Birch Rd"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, runID), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	events := readUntilComplete(t, ctx, conn)
	require.Len(t, events, 8)
	for _, ev := range events[:7] {
		assert.Equal(t, models.EventStepComplete, ev.Type)
		assert.Equal(t, 100, ev.ProgressPercent)
	}
	assert.Equal(t, models.EventRunComplete, events[7].Type)

	// The server closes the stream after the final event.
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsUnknownRun(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/runs/absent/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
