package pipeline

import (
	"context"

	"github.com/policity/policity/internal/models"
)

// Notifier receives progress events as steps terminate. Delivery is
// best-effort from the pipeline's perspective; fan-out to observers is
// the implementation's responsibility. Publish must not block the
// scheduler.
type Notifier interface {
	Publish(ctx context.Context, event models.ProgressEvent)
}

// NopNotifier discards all events.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(context.Context, models.ProgressEvent) {}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event models.ProgressEvent)

// Publish implements Notifier.
func (f NotifierFunc) Publish(ctx context.Context, event models.ProgressEvent) {
	f(ctx, event)
}
