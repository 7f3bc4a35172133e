package pipeline

import (
	"context"
	"encoding/json"
)

// StepSpec declares one step of the pipeline: its name, the upstream
// steps whose outputs it consumes, and the runner that produces its
// output.
type StepSpec struct {
	Name    string
	Depends []string
	Runner  StepRunner

	// Threshold overrides the run-wide acceptance threshold for this
	// step when set. Retry budget is unaffected.
	Threshold *float64
}

// UpstreamOutput carries one dependency's output into a step. When the
// dependency failed all attempts, Unavailable is set and Output is empty;
// the step still executes and must degrade on its own terms.
type UpstreamOutput struct {
	Output      json.RawMessage
	Confidence  float64
	Unavailable bool
	Degraded    bool
}

// StepRequest is the resolved input set for one execution attempt.
type StepRequest struct {
	RunID string

	// RunInputs are the immutable original request parameters.
	RunInputs map[string]any

	// Upstream maps each declared dependency to its output or its
	// unavailable marker.
	Upstream map[string]UpstreamOutput

	// Attempt is zero-based within one execution cycle. Runners that can
	// vary their strategy (e.g., alternate queries) key off it; the
	// pipeline only counts attempts.
	Attempt int
}

// StepResponse is one successful execution attempt's outcome. Confidence
// is the runner's self-reported quality score in [0, 1]; whether it is
// good enough is the retry policy's call, not the runner's.
type StepResponse struct {
	Output     json.RawMessage
	Confidence float64
	ModelUsed  string
	TokensUsed int
}

// StepRunner wraps one unit of work. Implementations must be safe to
// invoke multiple times for the same request cycle: attempts may repeat
// up to the retry ceiling.
type StepRunner interface {
	Execute(ctx context.Context, req StepRequest) (*StepResponse, error)
}

// StepRunnerFunc adapts a function to the StepRunner interface.
type StepRunnerFunc func(ctx context.Context, req StepRequest) (*StepResponse, error)

// Execute implements StepRunner.
func (f StepRunnerFunc) Execute(ctx context.Context, req StepRequest) (*StepResponse, error) {
	return f(ctx, req)
}
