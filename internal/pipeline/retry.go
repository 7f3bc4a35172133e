package pipeline

// Default quality gates. Both are configuration, injected through
// orchestrator options; the defaults apply when a caller sets nothing.
const (
	DefaultAcceptanceThreshold = 0.6
	DefaultMaxRetries          = 2
)

// Decision is the retry policy's verdict on one execution attempt.
type Decision int

const (
	// DecisionAccept takes the attempt's output as the step's result.
	DecisionAccept Decision = iota
	// DecisionRetry requests another attempt.
	DecisionRetry
	// DecisionDegrade accepts the best result seen so far despite its
	// confidence, marking the section degraded and raising the run-level
	// disclaimer.
	DecisionDegrade
)

// String returns a short token for logs.
func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionRetry:
		return "retry"
	case DecisionDegrade:
		return "degrade"
	default:
		return "unknown"
	}
}

// RetryPolicy decides, from a step's confidence and attempt count,
// whether to take the result, try again, or settle for the best seen.
type RetryPolicy struct {
	// AcceptanceThreshold is the minimum confidence taken without retry.
	// The boundary is inclusive: a result exactly at the threshold is
	// accepted.
	AcceptanceThreshold float64

	// MaxRetries bounds retries per execution cycle; the total attempt
	// count is MaxRetries+1.
	MaxRetries int
}

// DefaultRetryPolicy returns the policy with the standard gates.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		AcceptanceThreshold: DefaultAcceptanceThreshold,
		MaxRetries:          DefaultMaxRetries,
	}
}

// Decide returns the verdict for an attempt that produced a value with
// the given confidence. attempt is zero-based.
func (p RetryPolicy) Decide(confidence float64, attempt int) Decision {
	if confidence >= p.AcceptanceThreshold {
		return DecisionAccept
	}
	if attempt < p.MaxRetries {
		return DecisionRetry
	}
	return DecisionDegrade
}

// ShouldRetryFailure reports whether a hard failure on the given attempt
// leaves retry budget. Failures share the budget with low-confidence
// retries.
func (p RetryPolicy) ShouldRetryFailure(attempt int) bool {
	return attempt < p.MaxRetries
}
