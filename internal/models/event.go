package models

import "time"

// EventType tags a progress event emitted during a run.
type EventType string

const (
	EventStepStarted  EventType = "step_started"
	EventStepSkipped  EventType = "step_skipped"
	EventStepComplete EventType = "step_complete"
	EventStepFailed   EventType = "step_failed"
	EventRunComplete  EventType = "run_complete"
)

// ProgressEvent is pushed to observers as steps terminate. Delivery is
// best-effort; observers recover missed events by polling the run record.
type ProgressEvent struct {
	Type            EventType `json:"type"`
	RunID           string    `json:"runId"`
	StepName        string    `json:"stepName,omitempty"`
	ProgressPercent int       `json:"progressPercent"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewProgressEvent builds an event stamped with the current time.
func NewProgressEvent(typ EventType, runID, stepName string, progress int) ProgressEvent {
	return ProgressEvent{
		Type:            typ,
		RunID:           runID,
		StepName:        stepName,
		ProgressPercent: progress,
		Timestamp:       time.Now().UTC(),
	}
}
