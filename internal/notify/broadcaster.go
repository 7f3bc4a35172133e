// Package notify fans progress events out to in-process observers. The
// HTTP event stream and the CLI progress view both consume it; the
// pipeline only sees the Notifier interface.
package notify

import (
	"context"
	"sync"

	"github.com/policity/policity/internal/models"
)

// subscriberBuffer is each observer's channel capacity. An observer that
// cannot drain this many events is considered stuck and is dropped.
const subscriberBuffer = 16

// Broadcaster distributes each run's events to its subscribers. Publish
// never blocks: sends are buffered and a subscriber that falls behind is
// disconnected, so a stuck observer cannot stall the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch     chan models.ProgressEvent
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string][]*subscriber)}
}

// Subscribe registers an observer for one run's events. The returned
// channel closes after the run-complete event, when the observer falls
// behind, or once the cancel function runs. Callers must always call
// cancel when done.
func (b *Broadcaster) Subscribe(ctx context.Context, runID string) (<-chan models.ProgressEvent, func()) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		ch:     make(chan models.ProgressEvent, subscriberBuffer),
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.subs[runID] = append(b.subs[runID], sub)
	b.mu.Unlock()

	return sub.ch, func() {
		cancel()
		b.remove(runID, sub)
	}
}

// Publish implements pipeline.Notifier. Events are delivered to the
// subscribers of their run; the run-complete event additionally closes
// every remaining subscription for that run.
func (b *Broadcaster) Publish(_ context.Context, event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event.RunID]
	remaining := subs[:0]
	for _, sub := range subs {
		select {
		case <-sub.ctx.Done():
			b.closeSub(sub)
			continue
		default:
		}

		select {
		case sub.ch <- event:
			remaining = append(remaining, sub)
		default:
			// Subscriber fell behind; cut it loose.
			b.closeSub(sub)
		}
	}

	if event.Type == models.EventRunComplete {
		for _, sub := range remaining {
			b.closeSub(sub)
		}
		delete(b.subs, event.RunID)
		return
	}

	if len(remaining) == 0 {
		delete(b.subs, event.RunID)
		return
	}
	b.subs[event.RunID] = remaining
}

// SubscriberCount returns the number of active subscriptions for a run.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

func (b *Broadcaster) remove(runID string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[runID]
	for i, sub := range subs {
		if sub == target {
			b.subs[runID] = append(subs[:i], subs[i+1:]...)
			b.closeSub(sub)
			break
		}
	}
	if len(b.subs[runID]) == 0 {
		delete(b.subs, runID)
	}
}

// closeSub closes a subscription exactly once. Callers must hold b.mu;
// sends also happen under b.mu, so closing here cannot race a send.
func (b *Broadcaster) closeSub(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.cancel()
	close(sub.ch)
}
