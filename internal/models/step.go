package models

import (
	"encoding/json"
	"time"
)

// StepResultStatus distinguishes a persisted value from a persisted
// failure marker.
type StepResultStatus int

const (
	StepResultCompleted StepResultStatus = iota
	StepResultFailed
)

// String returns the canonical lowercase token for the result status.
func (s StepResultStatus) String() string {
	if s == StepResultFailed {
		return "failed"
	}
	return "completed"
}

// MarshalJSON serializes the status as its lowercase token.
func (s StepResultStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes the status from its lowercase token.
func (s *StepResultStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "failed" {
		*s = StepResultFailed
	} else {
		*s = StepResultCompleted
	}
	return nil
}

// StepResult is the persisted outcome of one step for one run. At most
// one record exists per (RunID, StepName); a later persist replaces the
// prior one wholesale.
type StepResult struct {
	RunID    string `json:"runId"`
	StepName string `json:"stepName"`

	// Output is opaque to the pipeline; its schema belongs to the step.
	Output     json.RawMessage  `json:"output,omitempty"`
	Confidence float64          `json:"confidence"`
	Status     StepResultStatus `json:"status"`
	Degraded   bool             `json:"degraded,omitempty"`

	// RunCount increments once per persisted attempt and survives
	// force-refresh deletion of the record.
	RunCount int `json:"runCount"`

	ExecutedAt time.Time `json:"executedAt"`
	DurationMs int64     `json:"durationMs"`
	ModelUsed  string    `json:"modelUsed,omitempty"`
	TokensUsed int       `json:"tokensUsed,omitempty"`

	// Error holds the last attempt's failure message for failed results.
	Error string `json:"error,omitempty"`
}

// Accepted reports whether the result carries a usable output at or above
// the given confidence threshold.
func (r *StepResult) Accepted(threshold float64) bool {
	return r.Status == StepResultCompleted && r.Confidence >= threshold
}

// SectionStatus maps the persisted result onto its report section status.
func (r *StepResult) SectionStatus() SectionStatus {
	switch {
	case r.Status == StepResultFailed:
		return SectionUnavailable
	case r.Degraded:
		return SectionDegraded
	default:
		return SectionOK
	}
}
