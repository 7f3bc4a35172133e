package backoff

import (
	"context"
	"time"

	"github.com/policity/policity/internal/logger"
)

type (
	// Operation to retry.
	Operation func(ctx context.Context) error

	// IsRetriableFunc reports whether an error is worth retrying.
	IsRetriableFunc func(err error) bool
)

// Retry executes op until it succeeds, the policy gives up, or the context
// is canceled. If isRetriable is nil, all errors are considered retriable.
// The error returned on exhaustion is the operation's last error, not
// ErrRetriesExhausted.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	retrier := NewRetrier(policy)
	attempt := 0

	for {
		attempt++

		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !isRetriable(err) {
			return err
		}

		interval, retryErr := retrier.Next(err)
		if retryErr != nil {
			logger.Warn(ctx, "retry attempts exhausted", "attempt", attempt, "err", err)
			return err
		}

		if interval <= 0 {
			interval = 100 * time.Millisecond
		}

		logger.Debug(ctx, "operation failed; scheduling retry",
			"attempt", attempt,
			"next_attempt_in", interval,
			"err", err,
		)

		if err := waitWithContext(ctx, interval); err != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
