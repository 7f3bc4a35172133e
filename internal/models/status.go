package models

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the lifecycle phases of a pipeline run.
type RunStatus int

const (
	RunPending RunStatus = iota
	RunRunning
	RunComplete
	RunFailed
)

// String returns the canonical lowercase token used across APIs, logs,
// and storage.
func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunComplete:
		return "complete"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsActive checks if the run is still executing.
func (s RunStatus) IsActive() bool {
	return s == RunPending || s == RunRunning
}

// MarshalJSON serializes the status as its lowercase token.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes the status from its lowercase token.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseRunStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseRunStatus maps a lowercase token back to its RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch s {
	case "pending":
		return RunPending, nil
	case "running":
		return RunRunning, nil
	case "complete":
		return RunComplete, nil
	case "failed":
		return RunFailed, nil
	default:
		return 0, fmt.Errorf("unknown run status %q", s)
	}
}

// StepState represents the per-step lifecycle phases within a run.
type StepState int

const (
	StepPending StepState = iota
	StepRunning
	StepCompleted
	StepSkipped
	StepFailed
)

// String returns the canonical lowercase token for the step state.
func (s StepState) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepSkipped:
		return "skipped"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal checks whether the step has reached a final state. Failed
// steps are terminal: downstream steps still run against an unavailable
// marker.
func (s StepState) IsTerminal() bool {
	return s == StepCompleted || s == StepSkipped || s == StepFailed
}

// MarshalJSON serializes the state as its lowercase token.
func (s StepState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes the state from its lowercase token.
func (s *StepState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStepState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStepState maps a lowercase token back to its StepState.
func ParseStepState(s string) (StepState, error) {
	switch s {
	case "pending":
		return StepPending, nil
	case "running":
		return StepRunning, nil
	case "completed":
		return StepCompleted, nil
	case "skipped":
		return StepSkipped, nil
	case "failed":
		return StepFailed, nil
	default:
		return 0, fmt.Errorf("unknown step state %q", s)
	}
}

// SectionStatus describes how a step's section appears in the aggregated
// report: produced normally, accepted below the confidence threshold, or
// missing after exhausted retries.
type SectionStatus int

const (
	SectionOK SectionStatus = iota
	SectionDegraded
	SectionUnavailable
)

// String returns the canonical lowercase token for the section status.
func (s SectionStatus) String() string {
	switch s {
	case SectionOK:
		return "ok"
	case SectionDegraded:
		return "degraded"
	case SectionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the status as its lowercase token.
func (s SectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes the status from its lowercase token.
func (s *SectionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "ok":
		*s = SectionOK
	case "degraded":
		*s = SectionDegraded
	case "unavailable":
		*s = SectionUnavailable
	default:
		return fmt.Errorf("unknown section status %q", str)
	}
	return nil
}
