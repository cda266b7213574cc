package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultCapacity bounds each class buffer when configuration is silent.
const DefaultCapacity = 1024

// memoryQueue is the default in-process backend: one buffered channel per
// class. Channels give lossless hand-off between concurrent producers and
// consumers; a full channel turns into an immediate ErrQueueFull.
type memoryQueue struct {
	single chan *Item
	batch  chan *Item

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type memoryFactory struct{}

func (f *memoryFactory) Name() string { return "memory" }

func (f *memoryFactory) Create(cfg Config, logger zerolog.Logger) (Queue, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return NewMemory(capacity), nil
}

func init() {
	GlobalRegistry.Register(&memoryFactory{})
}

// NewMemory returns an in-memory queue holding up to capacity items per class.
func NewMemory(capacity int) Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &memoryQueue{
		single: make(chan *Item, capacity),
		batch:  make(chan *Item, capacity),
		done:   make(chan struct{}),
	}
}

func (q *memoryQueue) buffer(class Class) chan *Item {
	if class == ClassBatch {
		return q.batch
	}
	return q.single
}

func (q *memoryQueue) Enqueue(ctx context.Context, item *Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.buffer(item.Class) <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (*Item, error) {
	// Drain whichever class has work; no ordering guarantee across classes.
	select {
	case item := <-q.single:
		return item, nil
	case item := <-q.batch:
		return item, nil
	default:
	}
	select {
	case item := <-q.single:
		return item, nil
	case item := <-q.batch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrClosed
	}
}

func (q *memoryQueue) Depths() Depths {
	return Depths{Single: len(q.single), Batch: len(q.batch)}
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.closed = true
	close(q.done)
	return nil
}
