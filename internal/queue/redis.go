package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// redisQueue keeps queue items on two Redis lists, msgpack-encoded. It
// moves only in-flight work off-heap; identities and metrics stay in
// process memory. Capacity is enforced with an LLEN check before the
// push, so it is approximate under heavy producer concurrency.
type redisQueue struct {
	client    *redis.Client
	singleKey string
	batchKey  string
	capacity  int
	logger    zerolog.Logger
}

type redisFactory struct{}

func (f *redisFactory) Name() string { return "redis" }

func (f *redisFactory) Create(cfg Config, logger zerolog.Logger) (Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis backend requires an address")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return NewRedis(client, cfg, logger), nil
}

func init() {
	GlobalRegistry.Register(&redisFactory{})
}

// NewRedis wraps an existing client; the caller owns the connection.
func NewRedis(client *redis.Client, cfg Config, logger zerolog.Logger) Queue {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "logwatcher"
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &redisQueue{
		client:    client,
		singleKey: namespace + ":queue:single",
		batchKey:  namespace + ":queue:batch",
		capacity:  capacity,
		logger:    logger.With().Str("component", "queue").Str("backend", "redis").Logger(),
	}
}

func (q *redisQueue) key(class Class) string {
	if class == ClassBatch {
		return q.batchKey
	}
	return q.singleKey
}

func (q *redisQueue) Enqueue(ctx context.Context, item *Item) error {
	key := q.key(item.Class)
	depth, err := q.client.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	if depth >= int64(q.capacity) {
		return ErrQueueFull
	}
	encoded, err := msgpack.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if err := q.client.RPush(ctx, key, encoded).Err(); err != nil {
		return fmt.Errorf("push item: %w", err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		res, err := q.client.BLPop(ctx, time.Second, q.singleKey, q.batchKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pop item: %w", err)
		}
		// BLPOP returns [key, value].
		var item Item
		if err := msgpack.Unmarshal([]byte(res[1]), &item); err != nil {
			q.logger.Error().Err(err).Msg("dropping undecodable queue item")
			continue
		}
		return &item, nil
	}
}

func (q *redisQueue) Depths() Depths {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	single, _ := q.client.LLen(ctx, q.singleKey).Result()
	batch, _ := q.client.LLen(ctx, q.batchKey).Result()
	return Depths{Single: int(single), Batch: int(batch)}
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
