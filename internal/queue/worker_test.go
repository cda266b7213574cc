package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/model"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// recordingConsumer fails the first failures calls, then accepts.
type recordingConsumer struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []string
}

func (c *recordingConsumer) Consume(event *model.LogEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		return errors.New("sink unavailable")
	}
	c.messages = append(c.messages, event.Message)
	return nil
}

func (c *recordingConsumer) snapshot() (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, append([]string(nil), c.messages...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_ProcessesInOrder(t *testing.T) {
	q := NewMemory(16)
	sink := &recordingConsumer{}
	pool := NewPool(q, sink, PoolOptions{Workers: 1, BackoffBase: time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	item := testItem(ClassBatch, "")
	item.Events = []model.LogEvent{
		{ServiceName: "svc", Level: model.LevelInfo, Message: "a"},
		{ServiceName: "svc", Level: model.LevelWarning, Message: "b"},
		{ServiceName: "svc", Level: model.LevelError, Message: "c"},
	}
	if err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, msgs := sink.snapshot()
		return len(msgs) == 3
	})
	cancel()
	pool.Wait()

	_, msgs := sink.snapshot()
	if msgs[0] != "a" || msgs[1] != "b" || msgs[2] != "c" {
		t.Errorf("order = %v", msgs)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	q := NewMemory(16)
	sink := &recordingConsumer{failures: 1}
	pool := NewPool(q, sink, PoolOptions{
		Workers:     1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	if err := q.Enqueue(ctx, testItem(ClassSingle, "eventually")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, msgs := sink.snapshot()
		return len(msgs) == 1
	})
	cancel()
	pool.Wait()

	calls, msgs := sink.snapshot()
	if msgs[0] != "eventually" {
		t.Errorf("message = %q", msgs[0])
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one failure, one success)", calls)
	}
}

func TestPool_DropsAfterMaxAttempts(t *testing.T) {
	q := NewMemory(16)
	sink := &recordingConsumer{failures: 100}

	dropped := make(chan *Item, 1)
	pool := NewPool(q, sink, PoolOptions{
		Workers:     1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		OnDrop: func(item *Item, err error) {
			dropped <- item
		},
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	if err := q.Enqueue(ctx, testItem(ClassSingle, "doomed")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case item := <-dropped:
		if item.Attempts != 3 {
			t.Errorf("attempts = %d, want 3", item.Attempts)
		}
		if item.Events[0].Message != "doomed" {
			t.Errorf("dropped message = %q", item.Events[0].Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("item never dropped")
	}
	cancel()
	pool.Wait()

	_, msgs := sink.snapshot()
	if len(msgs) != 0 {
		t.Errorf("failing sink recorded messages: %v", msgs)
	}
}

func TestPool_StopsOnQueueClose(t *testing.T) {
	q := NewMemory(16)
	pool := NewPool(q, &recordingConsumer{}, PoolOptions{Workers: 2}, testLogger())

	pool.Start(context.Background())
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after queue close")
	}
}
