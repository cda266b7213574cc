// Package queue decouples ingestion acceptance from processing. Accepted
// events are wrapped in items on a bounded per-class buffer and drained by
// a worker pool with bounded retry.
//
// Delivery semantics are at-least-once: a retried item may be consumed
// again, so downstream counters can double count on retry, but no item is
// silently lost within the retry budget.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/primoia/log-watcher/internal/model"
)

var (
	// ErrQueueFull is the backpressure signal returned when a class
	// buffer is saturated. It is surfaced to the gateway, never swallowed.
	ErrQueueFull = errors.New("queue: full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue: closed")
)

// Class separates single-event items from expanded batches; each class
// has its own bounded buffer.
type Class string

const (
	ClassSingle Class = "single"
	ClassBatch  Class = "batch"
)

// Item wraps the validated events of one accepted ingest call. Ordering
// among its events is the order they were validated in.
type Item struct {
	Class       Class            `json:"class" msgpack:"class"`
	BatchID     string           `json:"batch_id,omitempty" msgpack:"batch_id"`
	Events      []model.LogEvent `json:"events" msgpack:"events"`
	EnqueueTime time.Time        `json:"enqueue_time" msgpack:"enqueue_time"`
	Attempts    int              `json:"attempts" msgpack:"attempts"`
}

// ServiceName returns the owning service of the item's events; all events
// of one item share it by construction.
func (it *Item) ServiceName() string {
	if len(it.Events) == 0 {
		return ""
	}
	return it.Events[0].ServiceName
}

// Depths reports the number of buffered items per class.
type Depths struct {
	Single int `json:"single"`
	Batch  int `json:"batch"`
}

// Queue is a bounded buffer with concurrent producers (request handlers)
// and concurrent consumers (the worker pool).
type Queue interface {
	// Enqueue pushes the item onto its class buffer, failing fast with
	// ErrQueueFull instead of blocking past a short bound.
	Enqueue(ctx context.Context, item *Item) error
	// Dequeue blocks until an item of either class is available, the
	// context is cancelled, or the queue is closed.
	Dequeue(ctx context.Context) (*Item, error)
	// Depths reports current buffer occupancy.
	Depths() Depths
	// Close releases backend resources; subsequent calls fail with ErrClosed.
	Close() error
}

// Config selects and sizes a queue backend.
type Config struct {
	// Backend is a registered backend name: "memory", "redis", or "amqp".
	Backend string
	// Capacity bounds each class buffer.
	Capacity int
	// Addr is the broker address for the redis backend.
	Addr string
	// URL is the broker URL for the amqp backend.
	URL string
	// Namespace prefixes broker-side queue names.
	Namespace string
}
