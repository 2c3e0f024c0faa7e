package funds

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anychima/Rent-Flow-sub009/internal/logging"
)

func newStreamQueue(t *testing.T) (*RedisStreamQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := NewRedisStreamQueue(client, "funds-events", "payment-gate", "test", logging.Discard())
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, client
}

func TestRedisStreamQueueDeliversAndAcks(t *testing.T) {
	ctx := context.Background()
	q, _ := newStreamQueue(t)

	ev := Event{ID: "ev-1", LeaseID: "L2", Outcome: OutcomeSucceeded, OccurredAt: time.Now().UTC()}
	require.NoError(t, q.Publish(ctx, ev))

	var got []Event
	n, err := q.ReadOnce(ctx, func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, OutcomeSucceeded, got[0].Outcome)

	n, err = q.RetryPending(ctx, func(context.Context, Event) error {
		t.Fatal("acknowledged event redelivered")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStreamQueueRedeliversFailedEvents(t *testing.T) {
	ctx := context.Background()
	q, _ := newStreamQueue(t)
	require.NoError(t, q.Publish(ctx, Event{ID: "ev-2", LeaseID: "L2", Outcome: OutcomeFailed}))

	_, err := q.ReadOnce(ctx, func(context.Context, Event) error { return errors.New("store down") })
	require.NoError(t, err)

	var redelivered []string
	n, err := q.RetryPending(ctx, func(_ context.Context, e Event) error {
		redelivered = append(redelivered, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ev-2"}, redelivered)
}

func TestRedisStreamQueueDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	q, client := newStreamQueue(t)
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "funds-events",
		Values: map[string]interface{}{eventField: "{not json"},
	}).Err())

	n, err := q.ReadOnce(ctx, func(context.Context, Event) error {
		t.Fatal("malformed entry delivered")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := client.XPending(ctx, "funds-events", "payment-gate").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	q, _ := newStreamQueue(t)
	err := q.Publish(context.Background(), Event{ID: "x", Outcome: OutcomeSucceeded})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	cq := NewChannelQueue(1, logging.Discard())
	err = cq.Publish(context.Background(), Event{LeaseID: "L1", Outcome: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestChannelQueueRetriesFailedHandler(t *testing.T) {
	q := NewChannelQueue(4, logging.Discard())
	q.backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan int, 8)
	count := 0
	go q.Consume(ctx, func(context.Context, Event) error {
		count++
		attempts <- count
		if count < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, q.Publish(ctx, Event{ID: "ev-3", LeaseID: "L1", Outcome: OutcomeSucceeded}))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n == 3 {
				return
			}
		case <-deadline:
			t.Fatal("event was not redelivered")
		}
	}
}

func TestConsumersAcceptEventHandler(t *testing.T) {
	var (
		_ Consumer = (*ChannelQueue)(nil)
		_ Consumer = (*RedisStreamQueue)(nil)
		_          = NewHandler(nil, 2)
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	var handle EventHandler = func(_ context.Context, ev Event) error {
		got <- ev
		return nil
	}
	var consumer Consumer = NewChannelQueue(1, logging.Discard())
	go consumer.Consume(ctx, handle)

	require.NoError(t, consumer.(*ChannelQueue).Publish(ctx, Event{ID: "ev-4", LeaseID: "L1", Outcome: OutcomeSucceeded}))
	select {
	case ev := <-got:
		assert.Equal(t, "ev-4", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event handler was not called")
	}
}

func TestEventWireFormat(t *testing.T) {
	raw := `{"id":"ev-9","lease_id":"L2","outcome":"succeeded","covers":["security_deposit"]}`
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	require.NoError(t, ev.Validate())
	assert.Equal(t, []TransferKind{KindSecurityDeposit}, ev.Covers)
}

func TestDedupers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	for name, d := range map[string]Deduper{
		"redis":  NewRedisDeduper(client, time.Hour),
		"memory": NewMemoryDeduper(),
	} {
		first, err := d.Claim(ctx, "ev-1")
		require.NoError(t, err, name)
		assert.True(t, first, name)

		again, err := d.Claim(ctx, "ev-1")
		require.NoError(t, err, name)
		assert.False(t, again, name)

		require.NoError(t, d.Release(ctx, "ev-1"), name)
		reclaimed, err := d.Claim(ctx, "ev-1")
		require.NoError(t, err, name)
		assert.True(t, reclaimed, name)
	}
}
