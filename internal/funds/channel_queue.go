package funds

import (
	"context"
	"log/slog"
	"time"
)

const defaultMaxAttempts = 5

type delivery struct {
	event    Event
	attempts int
}

// ChannelQueue is an in-process at-least-once queue. Events whose handler
// fails are redelivered after a backoff until maxAttempts is reached.
type ChannelQueue struct {
	ch          chan delivery
	done        chan struct{}
	backoff     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewChannelQueue creates a queue buffering up to size events.
func NewChannelQueue(size int, logger *slog.Logger) *ChannelQueue {
	if size <= 0 {
		size = 256
	}
	return &ChannelQueue{
		ch:          make(chan delivery, size),
		done:        make(chan struct{}),
		backoff:     200 * time.Millisecond,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
}

// Publish enqueues ev, blocking while the buffer is full.
func (q *ChannelQueue) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	select {
	case q.ch <- delivery{event: ev}:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handle for each event until ctx is cancelled.
func (q *ChannelQueue) Consume(ctx context.Context, handle EventHandler) error {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q.ch:
			if err := handle(ctx, d.event); err != nil {
				q.retry(ctx, d, err)
			}
		}
	}
}

func (q *ChannelQueue) retry(ctx context.Context, d delivery, cause error) {
	d.attempts++
	if d.attempts >= q.maxAttempts {
		q.logger.Error("funds event dropped", "event_id", d.event.ID, "lease_id", d.event.LeaseID, "attempts", d.attempts, "error", cause)
		return
	}
	q.logger.Warn("funds event redelivery scheduled", "event_id", d.event.ID, "lease_id", d.event.LeaseID, "attempt", d.attempts, "error", cause)
	time.AfterFunc(q.backoff*time.Duration(d.attempts), func() {
		select {
		case q.ch <- d:
		case <-ctx.Done():
		}
	})
}
