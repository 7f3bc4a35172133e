package pipeline

import "time"

// Metrics receives execution signals from the orchestrator. The
// Prometheus-backed implementation lives in internal/metrics; the
// orchestrator only depends on this interface so tests can swap in a
// recorder.
type Metrics interface {
	RunStarted(runID string)
	RunFinished(runID string, status string, duration time.Duration)
	StepExecuted(stepName string, accepted bool, duration time.Duration)
	StepSkipped(stepName string)
	StepFailed(stepName string)
	StepRetried(stepName string)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted(string)                         {}
func (nopMetrics) RunFinished(string, string, time.Duration) {}
func (nopMetrics) StepExecuted(string, bool, time.Duration)  {}
func (nopMetrics) StepSkipped(string)                        {}
func (nopMetrics) StepFailed(string)                         {}
func (nopMetrics) StepRetried(string)                        {}
