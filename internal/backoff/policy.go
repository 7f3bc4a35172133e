package backoff

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrRetriesExhausted is returned when the maximum number of retries has been reached.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

type (
	// RetryPolicy computes how long to wait before the next retry.
	RetryPolicy interface {
		// ComputeNextInterval returns the duration to wait before the next
		// retry, or an error if no more retries should be attempted.
		ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error)
	}

	// Retrier tracks retry state across successive attempts.
	Retrier interface {
		// Next computes the next retry interval and updates internal state.
		Next(err error) (time.Duration, error)
		// Reset resets the retrier to its initial state.
		Reset()
	}
)

const unlimitedRetries = 0

var (
	defaultBackoffFactor = 2.0
	defaultMaxInterval   = 10 * time.Second
)

// ExponentialBackoffPolicy increases the interval by a constant factor
// after each retry, capped at MaxInterval.
type ExponentialBackoffPolicy struct {
	// InitialInterval is the interval before the first retry.
	InitialInterval time.Duration
	// BackoffFactor is the multiplier applied after each retry.
	BackoffFactor float64
	// MaxInterval caps the computed interval.
	MaxInterval time.Duration
	// MaxRetries limits the number of retries. 0 means unlimited.
	MaxRetries int
}

// NewExponentialBackoffPolicy creates an ExponentialBackoffPolicy with defaults.
func NewExponentialBackoffPolicy(initialInterval time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   defaultBackoffFactor,
		MaxInterval:     defaultMaxInterval,
		MaxRetries:      unlimitedRetries,
	}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}

	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}

	return time.Duration(interval), nil
}

// ConstantBackoffPolicy waits a fixed interval between retries.
type ConstantBackoffPolicy struct {
	// Interval is the constant interval between retries.
	Interval time.Duration
	// MaxRetries limits the number of retries. 0 means unlimited.
	MaxRetries int
}

// NewConstantBackoffPolicy creates a ConstantBackoffPolicy with the given interval.
func NewConstantBackoffPolicy(interval time.Duration) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{
		Interval:   interval,
		MaxRetries: unlimitedRetries,
	}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}

// NewRetrier creates a Retrier driven by the given policy.
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{policy: policy}
}

type retrierImpl struct {
	policy     RetryPolicy
	retryCount int
	startTime  time.Time
	mu         sync.Mutex
}

// Next implements Retrier.
func (r *retrierImpl) Next(err error) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}

	interval, computeErr := r.policy.ComputeNextInterval(r.retryCount, time.Since(r.startTime), err)
	if computeErr != nil {
		return 0, computeErr
	}

	r.retryCount++
	return interval, nil
}

// Reset implements Retrier.
func (r *retrierImpl) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
	r.startTime = time.Time{}
}
