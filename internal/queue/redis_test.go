package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/primoia/log-watcher/internal/model"
)

func newTestRedisQueue(t *testing.T, capacity int) Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, Config{Capacity: capacity, Namespace: "test"}, testLogger())
}

func TestRedis_RoundTrip(t *testing.T) {
	q := newTestRedisQueue(t, 16)
	ctx := context.Background()

	enqueued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	item := &Item{
		Class:   ClassBatch,
		BatchID: "batch-7",
		Events: []model.LogEvent{
			{ServiceName: "svc", Level: model.LevelInfo, Message: "first", SizeBytes: 42},
			{ServiceName: "svc", Level: model.LevelError, Message: "second", SizeBytes: 43},
		},
		EnqueueTime: enqueued,
		Attempts:    1,
	}
	if err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.Class != ClassBatch || got.BatchID != "batch-7" || got.Attempts != 1 {
		t.Errorf("item header = %+v", got)
	}
	if !got.EnqueueTime.Equal(enqueued) {
		t.Errorf("enqueue time = %v", got.EnqueueTime)
	}
	if len(got.Events) != 2 {
		t.Fatalf("events = %d", len(got.Events))
	}
	if got.Events[0].Message != "first" || got.Events[1].Message != "second" {
		t.Errorf("event order lost: %v, %v", got.Events[0].Message, got.Events[1].Message)
	}
	if got.Events[1].Level != model.LevelError {
		t.Errorf("level = %q", got.Events[1].Level)
	}
}

func TestRedis_CapacityEnforced(t *testing.T) {
	q := newTestRedisQueue(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, testItem(ClassSingle, "x")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.Enqueue(ctx, testItem(ClassSingle, "overflow")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Each class has its own list, so the batch side is still writable.
	if err := q.Enqueue(ctx, testItem(ClassBatch, "b")); err != nil {
		t.Fatalf("batch enqueue: %v", err)
	}

	depths := q.Depths()
	if depths.Single != 2 || depths.Batch != 1 {
		t.Errorf("depths = %+v", depths)
	}
}

func TestRedis_DequeueRespectsContext(t *testing.T) {
	q := newTestRedisQueue(t, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected error from cancelled dequeue")
	}
}

func TestRedis_SurvivesForeignPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := NewRedis(client, Config{Capacity: 16, Namespace: "test"}, testLogger())
	ctx := context.Background()

	// A non-msgpack payload on the list is skipped, not fatal.
	mr.Lpush("test:queue:single", "not msgpack")
	if err := q.Enqueue(ctx, testItem(ClassSingle, "real")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.Events[0].Message != "real" {
		t.Errorf("message = %q", got.Events[0].Message)
	}
}
