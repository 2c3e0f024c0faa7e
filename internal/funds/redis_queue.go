package funds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventField         = "event"
	defaultBlock       = 2 * time.Second
	defaultRetryPeriod = 10 * time.Second
)

// RedisStreamQueue carries funds events on a Redis stream read through a
// consumer group. Entries are acknowledged only after the handler succeeds;
// failed entries stay pending and are retried from the consumer's backlog.
type RedisStreamQueue struct {
	client      redis.Cmdable
	stream      string
	group       string
	consumer    string
	block       time.Duration
	retryPeriod time.Duration
	logger      *slog.Logger
}

// NewRedisStreamQueue binds a queue to stream using consumer group group.
func NewRedisStreamQueue(client redis.Cmdable, stream, group, consumer string, logger *slog.Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		client:      client,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		block:       defaultBlock,
		retryPeriod: defaultRetryPeriod,
		logger:      logger,
	}
}

// Publish appends ev to the stream.
func (q *RedisStreamQueue) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode funds event: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{eventField: string(payload)},
	}).Err()
}

// EnsureGroup creates the consumer group and the stream if missing.
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Consume reads new entries until ctx is cancelled, periodically retrying
// entries that are still pending for this consumer.
func (q *RedisStreamQueue) Consume(ctx context.Context, handle EventHandler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}
	lastRetry := time.Now()
	for ctx.Err() == nil {
		if time.Since(lastRetry) >= q.retryPeriod {
			if _, err := q.read(ctx, "0", -1, handle); err != nil && ctx.Err() == nil {
				q.logger.Warn("funds backlog read failed", "stream", q.stream, "error", err)
			}
			lastRetry = time.Now()
		}
		if _, err := q.read(ctx, ">", q.block, handle); err != nil && ctx.Err() == nil {
			q.logger.Warn("funds stream read failed", "stream", q.stream, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

// ReadOnce handles the entries currently available without blocking and
// returns how many were acknowledged.
func (q *RedisStreamQueue) ReadOnce(ctx context.Context, handle EventHandler) (int, error) {
	return q.read(ctx, ">", -1, handle)
}

// RetryPending handles entries delivered to this consumer but never acknowledged.
func (q *RedisStreamQueue) RetryPending(ctx context.Context, handle EventHandler) (int, error) {
	return q.read(ctx, "0", -1, handle)
}

func (q *RedisStreamQueue) read(ctx context.Context, start string, block time.Duration, handle EventHandler) (int, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, start},
		Count:    32,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			ev, err := decodeEvent(msg)
			if err != nil {
				q.logger.Error("dropping malformed funds event", "stream", q.stream, "entry", msg.ID, "error", err)
				q.ack(ctx, msg.ID)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				q.logger.Warn("funds event left pending", "entry", msg.ID, "event_id", ev.ID, "lease_id", ev.LeaseID, "error", err)
				continue
			}
			q.ack(ctx, msg.ID)
			acked++
		}
	}
	return acked, nil
}

func (q *RedisStreamQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.logger.Warn("funds event ack failed", "entry", id, "error", err)
	}
}

func decodeEvent(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: missing %q field", ErrInvalidEvent, eventField)
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, ev.Validate()
}
