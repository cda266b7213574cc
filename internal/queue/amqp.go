package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// amqpQueue keeps queue items on two broker queues declared with a
// max-length of Capacity and reject-publish overflow. Publisher confirms
// turn a broker-side rejection into ErrQueueFull, so the gateway sees the
// same backpressure signal as with the in-memory backend.
type amqpQueue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	singleKey string
	batchKey  string
	logger    zerolog.Logger

	// amqp channels are not safe for concurrent publish.
	publishMu sync.Mutex

	consumeOnce sync.Once
	singleIn    <-chan amqp.Delivery
	batchIn     <-chan amqp.Delivery
	consumeErr  error
}

type amqpFactory struct{}

func (f *amqpFactory) Name() string { return "amqp" }

func (f *amqpFactory) Create(cfg Config, logger zerolog.Logger) (Queue, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp backend requires a broker URL")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	q, err := NewAMQP(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func init() {
	GlobalRegistry.Register(&amqpFactory{})
}

// NewAMQP declares the per-class queues on an open connection.
func NewAMQP(conn *amqp.Connection, cfg Config, logger zerolog.Logger) (Queue, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "logwatcher"
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	q := &amqpQueue{
		conn:      conn,
		channel:   channel,
		singleKey: namespace + ".queue.single",
		batchKey:  namespace + ".queue.batch",
		logger:    logger.With().Str("component", "queue").Str("backend", "amqp").Logger(),
	}
	args := amqp.Table{
		"x-max-length": int32(capacity),
		"x-overflow":   "reject-publish",
	}
	for _, name := range []string{q.singleKey, q.batchKey} {
		if _, err := channel.QueueDeclare(name, true, false, false, false, args); err != nil {
			return nil, fmt.Errorf("declare %s: %w", name, err)
		}
	}
	return q, nil
}

func (q *amqpQueue) key(class Class) string {
	if class == ClassBatch {
		return q.batchKey
	}
	return q.singleKey
}

func (q *amqpQueue) Enqueue(ctx context.Context, item *Item) error {
	encoded, err := msgpack.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	q.publishMu.Lock()
	confirmation, err := q.channel.PublishWithDeferredConfirmWithContext(ctx, "", q.key(item.Class), true, false, amqp.Publishing{
		ContentType:  "application/msgpack",
		DeliveryMode: amqp.Persistent,
		Body:         encoded,
	})
	q.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish item: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrQueueFull
	}
	return nil
}

func (q *amqpQueue) Dequeue(ctx context.Context) (*Item, error) {
	q.consumeOnce.Do(func() {
		q.singleIn, q.consumeErr = q.channel.Consume(q.singleKey, "", true, false, false, false, nil)
		if q.consumeErr != nil {
			return
		}
		q.batchIn, q.consumeErr = q.channel.Consume(q.batchKey, "", true, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return nil, fmt.Errorf("start consumers: %w", q.consumeErr)
	}
	for {
		var delivery amqp.Delivery
		var ok bool
		select {
		case delivery, ok = <-q.singleIn:
		case delivery, ok = <-q.batchIn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			return nil, ErrClosed
		}
		var item Item
		if err := msgpack.Unmarshal(delivery.Body, &item); err != nil {
			q.logger.Error().Err(err).Msg("dropping undecodable queue item")
			continue
		}
		return &item, nil
	}
}

func (q *amqpQueue) Depths() Depths {
	var depths Depths
	if state, err := q.channel.QueueDeclarePassive(q.singleKey, true, false, false, false, nil); err == nil {
		depths.Single = state.Messages
	}
	if state, err := q.channel.QueueDeclarePassive(q.batchKey, true, false, false, false, nil); err == nil {
		depths.Batch = state.Messages
	}
	return depths
}

func (q *amqpQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
