package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/model"
)

// Consumer receives processed events; the metrics engine implements it.
// Consume must be safe under concurrent invocation from multiple workers.
type Consumer interface {
	Consume(event *model.LogEvent) error
}

// PoolOptions tune the worker pool. Zero values fall back to the
// defaults below.
type PoolOptions struct {
	// Workers is the number of draining goroutines.
	Workers int
	// MaxAttempts bounds delivery attempts per item before it is dropped.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; each further
	// attempt doubles it.
	BackoffBase time.Duration
	// OnDrop observes items whose retries are exhausted. The loss has
	// already been logged; the gateway acked long ago, so this is the
	// only remaining trace.
	OnDrop func(item *Item, err error)
}

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBackoffBase = 100 * time.Millisecond
)

// Pool drains a queue into a consumer with bounded retry. Items that fail
// all attempts are dropped and recorded, never retried forever and never
// discarded without a trace. Because a retried item is re-consumed from
// the start, delivery is at-least-once and counters downstream may double
// count on retry; that tradeoff is deliberate.
type Pool struct {
	queue  Queue
	sink   Consumer
	opts   PoolOptions
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewPool builds a pool; call Start to begin draining.
func NewPool(q Queue, sink Consumer, opts PoolOptions, logger zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	return &Pool{
		queue:  q,
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "worker-pool").Logger(),
	}
}

// Start launches the workers. They run until the context is cancelled or
// the queue is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With().Int("worker", id).Logger()
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			continue
		}
		p.process(ctx, item, logger)
	}
}

// process hands the item's events to the consumer in validation order.
// On failure the whole item is re-enqueued with an incremented attempt
// count; events consumed before the failure will be consumed again.
func (p *Pool) process(ctx context.Context, item *Item, logger zerolog.Logger) {
	item.Attempts++
	var consumeErr error
	for i := range item.Events {
		if consumeErr = p.sink.Consume(&item.Events[i]); consumeErr != nil {
			break
		}
	}
	if consumeErr == nil {
		logger.Debug().
			Str("service", item.ServiceName()).
			Int("events", len(item.Events)).
			Msg("item processed")
		return
	}
	if item.Attempts >= p.opts.MaxAttempts {
		p.drop(item, consumeErr, logger)
		return
	}
	backoff := p.opts.BackoffBase << (item.Attempts - 1)
	logger.Warn().Err(consumeErr).
		Str("service", item.ServiceName()).
		Int("attempt", item.Attempts).
		Dur("backoff", backoff).
		Msg("processing failed, will retry")
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		// Shutting down: the retry budget is not exhausted, but the
		// process is going away with all in-memory state anyway.
		return
	}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		p.drop(item, err, logger)
	}
}

func (p *Pool) drop(item *Item, err error, logger zerolog.Logger) {
	logger.Error().Err(err).
		Str("service", item.ServiceName()).
		Int("events", len(item.Events)).
		Int("attempts", item.Attempts).
		Msg("retries exhausted, dropping item")
	if p.opts.OnDrop != nil {
		p.opts.OnDrop(item, err)
	}
}
