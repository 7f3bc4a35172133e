package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/pipeline"
)

// responseContract is appended to every agent's system instruction. The
// model self-rates its answer; the orchestrator turns that rating into
// accept/retry/degrade decisions.
const responseContract = `Respond with one JSON object containing the requested fields plus a ` +
	`top-level "confidence" number between 0 and 1 rating how reliable your answer is. ` +
	`Lower the rating when you had to guess or when input data was marked unavailable.`

// offlineModel marks responses produced without a model API.
const offlineModel = "offline"

// assumedConfidence is used when a model answer omits its self-rating.
const assumedConfidence = 0.7

// llmStep is the base shared by all builtin agents: build a prompt from
// the run inputs and upstream sections, call the model in JSON mode, and
// split the self-rated confidence out of the answer. When no model API
// is configured the step serves its canned fallback instead, the same
// demo-mode behavior the service always had.
type llmStep struct {
	name               string
	client             llm.Client
	system             string
	buildPrompt        func(ctx context.Context, req pipeline.StepRequest) string
	fallback           func(req pipeline.StepRequest) map[string]any
	fallbackConfidence float64
}

var _ pipeline.StepRunner = (*llmStep)(nil)

func (s *llmStep) Execute(ctx context.Context, req pipeline.StepRequest) (*pipeline.StepResponse, error) {
	return s.generate(ctx, req, s.buildPrompt(ctx, req))
}

func (s *llmStep) generate(ctx context.Context, req pipeline.StepRequest, prompt string) (*pipeline.StepResponse, error) {
	resp, err := s.client.Generate(ctx, llm.GenerateRequest{
		System: s.system + "\n\n" + responseContract,
		Prompt: prompt,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNoAPIKey) {
			return s.offline(req)
		}
		return nil, fmt.Errorf("step %s: %w", s.name, err)
	}

	output, confidence, err := splitConfidence(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("step %s: malformed model answer: %w", s.name, err)
	}

	return &pipeline.StepResponse{
		Output:     output,
		Confidence: confidence,
		ModelUsed:  resp.Model,
		TokensUsed: resp.TokensUsed,
	}, nil
}

func (s *llmStep) offline(req pipeline.StepRequest) (*pipeline.StepResponse, error) {
	output, err := json.Marshal(s.fallback(req))
	if err != nil {
		return nil, fmt.Errorf("step %s: encode fallback: %w", s.name, err)
	}
	return &pipeline.StepResponse{
		Output:     output,
		Confidence: s.fallbackConfidence,
		ModelUsed:  offlineModel,
	}, nil
}

// splitConfidence pops the self-rating out of a model answer and returns
// the remaining fields as the section output.
func splitConfidence(text string) (json.RawMessage, float64, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, 0, err
	}

	confidence := assumedConfidence
	if v, ok := fields["confidence"].(float64); ok {
		confidence = v
	}
	delete(fields, "confidence")

	output, err := json.Marshal(fields)
	if err != nil {
		return nil, 0, err
	}
	return output, confidence, nil
}

// renderUpstream lists dependency sections for inclusion in a prompt.
// Failed dependencies are called out explicitly so the model treats the
// data as missing rather than empty.
func renderUpstream(upstream map[string]pipeline.UpstreamOutput, names []string, limit int) string {
	var b strings.Builder
	for _, name := range names {
		dep, ok := upstream[name]
		switch {
		case !ok || dep.Unavailable:
			fmt.Fprintf(&b, "%s: data unavailable\n", name)
		case dep.Degraded:
			fmt.Fprintf(&b, "%s (low confidence): %s\n", name, truncate(dep.Output, limit))
		default:
			fmt.Fprintf(&b, "%s: %s\n", name, truncate(dep.Output, limit))
		}
	}
	return b.String()
}

func truncate(raw json.RawMessage, limit int) string {
	s := string(raw)
	if limit > 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// retryNudge asks for a tighter answer on re-attempts after a
// low-confidence draft.
func retryNudge(attempt int) string {
	if attempt == 0 {
		return ""
	}
	return "\nAn earlier draft of this section scored below the acceptance bar. " +
		"Tighten the estimates and prefer verifiable sources.\n"
}
