package models

import (
	"encoding/json"
	"time"
)

// RunRecord is the durable state of one pipeline run. The orchestrator is
// its only writer; it is keyed by the caller-supplied run ID and never
// deleted by the orchestrator itself.
type RunRecord struct {
	RunID      string               `json:"runId"`
	Inputs     map[string]any       `json:"inputs"`
	Status     RunStatus            `json:"status"`
	StepStates map[string]StepState `json:"stepStates"`
	Progress   int                  `json:"progress"`
	Disclaimer bool                 `json:"lowConfidenceDisclaimer"`
	FailReason string               `json:"failReason,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// NewRunRecord creates a pending record for a previously-unseen run ID.
func NewRunRecord(runID string, inputs map[string]any, stepNames []string) *RunRecord {
	states := make(map[string]StepState, len(stepNames))
	for _, name := range stepNames {
		states[name] = StepPending
	}
	now := time.Now().UTC()
	return &RunRecord{
		RunID:      runID,
		Inputs:     inputs,
		Status:     RunPending,
		StepStates: states,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Touch updates the modification timestamp.
func (r *RunRecord) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// CompletedSteps counts steps that reached a terminal state.
func (r *RunRecord) CompletedSteps() int {
	var n int
	for _, st := range r.StepStates {
		if st.IsTerminal() {
			n++
		}
	}
	return n
}

// ComputeProgress returns the integer percentage of terminal steps.
func (r *RunRecord) ComputeProgress() int {
	total := len(r.StepStates)
	if total == 0 {
		return 0
	}
	return r.CompletedSteps() * 100 / total
}

// Clone returns a deep copy so callers can hold a snapshot while the
// orchestrator keeps mutating its own instance.
func (r *RunRecord) Clone() *RunRecord {
	cp := *r
	cp.Inputs = make(map[string]any, len(r.Inputs))
	for k, v := range r.Inputs {
		cp.Inputs[k] = v
	}
	cp.StepStates = make(map[string]StepState, len(r.StepStates))
	for k, v := range r.StepStates {
		cp.StepStates[k] = v
	}
	return &cp
}

// Section is one step's slice of the aggregated report.
type Section struct {
	Output     json.RawMessage `json:"output,omitempty"`
	Status     SectionStatus   `json:"status"`
	Confidence float64         `json:"confidence"`
}

// RunResult is the aggregate returned to the caller once a run finishes
// or is served from cache: every step's (possibly unavailable) section
// plus the run-level quality flags.
type RunResult struct {
	RunID         string             `json:"runId"`
	Status        RunStatus          `json:"status"`
	Sections      map[string]Section `json:"sections"`
	Disclaimer    bool               `json:"lowConfidenceDisclaimer"`
	StepsExecuted []string           `json:"stepsExecuted"`
	StepsSkipped  []string           `json:"stepsSkipped"`
	StepsFailed   []string           `json:"stepsFailed"`
	Progress      int                `json:"progress"`
}
