package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/pipeline"
)

// fakeLLM returns a canned answer and records the last request.
type fakeLLM struct {
	resp    *llm.GenerateResponse
	err     error
	lastReq llm.GenerateRequest
}

func (f *fakeLLM) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testStep(client llm.Client) *llmStep {
	return &llmStep{
		name:   "planner",
		client: client,
		system: "You are a test agent.",
		buildPrompt: func(_ context.Context, _ pipeline.StepRequest) string {
			return "do the thing"
		},
		fallback: func(_ pipeline.StepRequest) map[string]any {
			return map[string]any{"canned": true}
		},
		fallbackConfidence: 0.95,
	}
}

func TestLLMStepExecute(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{resp: &llm.GenerateResponse{
		Text:       `{"plan": "fill the pothole", "confidence": 0.83}`,
		Model:      "gemini-2.5-flash",
		TokensUsed: 321,
	}}
	step := testStep(client)

	resp, err := step.Execute(context.Background(), pipeline.StepRequest{RunID: "run-1"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"plan": "fill the pothole"}`, string(resp.Output))
	assert.InDelta(t, 0.83, resp.Confidence, 0.001)
	assert.Equal(t, "gemini-2.5-flash", resp.ModelUsed)
	assert.Equal(t, 321, resp.TokensUsed)

	assert.Contains(t, client.lastReq.System, "You are a test agent.")
	assert.Contains(t, client.lastReq.System, `top-level "confidence"`)
	assert.Equal(t, "do the thing", client.lastReq.Prompt)
}

func TestLLMStepOfflineFallback(t *testing.T) {
	t.Parallel()

	step := testStep(llm.Offline())

	resp, err := step.Execute(context.Background(), pipeline.StepRequest{RunID: "run-1"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"canned": true}`, string(resp.Output))
	assert.InDelta(t, 0.95, resp.Confidence, 0.001)
	assert.Equal(t, offlineModel, resp.ModelUsed)
	assert.Zero(t, resp.TokensUsed)
}

func TestLLMStepPropagatesModelErrors(t *testing.T) {
	t.Parallel()

	apiErr := &llm.APIError{StatusCode: 500, Body: "upstream broke"}
	step := testStep(&fakeLLM{err: apiErr})

	_, err := step.Execute(context.Background(), pipeline.StepRequest{RunID: "run-1"})
	require.Error(t, err)

	var got *llm.APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 500, got.StatusCode)
	assert.Contains(t, err.Error(), "step planner")
}

func TestLLMStepMalformedAnswer(t *testing.T) {
	t.Parallel()

	step := testStep(&fakeLLM{resp: &llm.GenerateResponse{Text: "this is not JSON"}})

	_, err := step.Execute(context.Background(), pipeline.StepRequest{RunID: "run-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed model answer")
}

func TestSplitConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		text           string
		wantOutput     string
		wantConfidence float64
	}{
		{
			name:           "confidence popped from answer",
			text:           `{"a": 1, "confidence": 0.4}`,
			wantOutput:     `{"a": 1}`,
			wantConfidence: 0.4,
		},
		{
			name:           "missing confidence assumes default",
			text:           `{"a": 1}`,
			wantOutput:     `{"a": 1}`,
			wantConfidence: assumedConfidence,
		},
		{
			name:           "non-numeric confidence dropped and assumed",
			text:           `{"a": 1, "confidence": "high"}`,
			wantOutput:     `{"a": 1}`,
			wantConfidence: assumedConfidence,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			output, confidence, err := splitConfidence(tc.text)
			require.NoError(t, err)
			assert.JSONEq(t, tc.wantOutput, string(output))
			assert.InDelta(t, tc.wantConfidence, confidence, 0.001)
		})
	}
}

func TestSplitConfidenceRejectsNonJSON(t *testing.T) {
	t.Parallel()

	_, _, err := splitConfidence("plain prose answer")
	require.Error(t, err)
}

func TestRenderUpstream(t *testing.T) {
	t.Parallel()

	upstream := map[string]pipeline.UpstreamOutput{
		"planner": {Output: json.RawMessage(`{"ok": true}`), Confidence: 0.9},
		"budget":  {Output: json.RawMessage(`{"tight": true}`), Confidence: 0.3, Degraded: true},
		"broken":  {Unavailable: true},
	}

	got := renderUpstream(upstream, []string{"planner", "budget", "broken", "absent"}, 0)

	assert.Contains(t, got, `planner: {"ok": true}`)
	assert.Contains(t, got, `budget (low confidence): {"tight": true}`)
	assert.Contains(t, got, "broken: data unavailable")
	assert.Contains(t, got, "absent: data unavailable")
}

func TestRenderUpstreamTruncates(t *testing.T) {
	t.Parallel()

	long := `{"text": "` + strings.Repeat("x", 100) + `"}`
	upstream := map[string]pipeline.UpstreamOutput{
		"planner": {Output: json.RawMessage(long)},
	}

	got := renderUpstream(upstream, []string{"planner"}, 20)

	assert.Contains(t, got, "...")
	assert.Less(t, len(got), len(long))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate(json.RawMessage("short"), 100))
	assert.Equal(t, "abcde...", truncate(json.RawMessage("abcdefgh"), 5))
	assert.Equal(t, "abcdefgh", truncate(json.RawMessage("abcdefgh"), 0))
}

func TestRetryNudge(t *testing.T) {
	t.Parallel()

	assert.Empty(t, retryNudge(0))
	assert.Contains(t, retryNudge(1), "scored below the acceptance bar")
	assert.Contains(t, retryNudge(2), "scored below the acceptance bar")
}

func TestLLMStepOfflineIsErrNoAPIKey(t *testing.T) {
	t.Parallel()

	_, err := llm.Offline().Generate(context.Background(), llm.GenerateRequest{})
	require.True(t, errors.Is(err, llm.ErrNoAPIKey))
}
