package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/policity/policity/internal/logger"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor periodically removes finished runs older than the retention
// window. Run records are never deleted by the orchestrator itself;
// retention is the store's concern.
type Janitor struct {
	store         Store
	schedule      cron.Schedule
	retentionDays int
}

// NewJanitor creates a janitor from a standard five-field cron expression.
func NewJanitor(store Store, scheduleExpr string, retentionDays int) (*Janitor, error) {
	schedule, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", scheduleExpr, err)
	}
	return &Janitor{
		store:         store,
		schedule:      schedule,
		retentionDays: retentionDays,
	}, nil
}

// Start runs the sweep loop until the context is canceled.
func (j *Janitor) Start(ctx context.Context) {
	logger.Info(ctx, "retention janitor started",
		"retention_days", j.retentionDays)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "retention janitor stopped")
			return
		case <-timer.C:
		}

		if err := j.store.RemoveOldRuns(ctx, j.retentionDays); err != nil {
			logger.Error(ctx, "retention sweep failed", "err", err)
			continue
		}
		logger.Debug(ctx, "retention sweep finished",
			"retention_days", j.retentionDays)
	}
}
