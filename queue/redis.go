package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/arkstead/keepsake/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue implements Queue on Redis lists. Layout per kind:
//
//	jobs:<kind>             ready list (LPUSH producer side)
//	jobs:<kind>:processing  in-flight list (BLMOVE target)
//	jobs:<kind>:delayed     ZSET of released messages, scored by due time
//	jobs:<kind>:deliveries  HASH body -> delivery count
//	jobs:<kind>:dead        dead-letter list
type RedisQueue struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, logger: logger}
}

func readyKey(kind models.JobKind) string      { return fmt.Sprintf("jobs:%s", kind) }
func processingKey(kind models.JobKind) string { return fmt.Sprintf("jobs:%s:processing", kind) }
func delayedKey(kind models.JobKind) string    { return fmt.Sprintf("jobs:%s:delayed", kind) }
func deliveriesKey(kind models.JobKind) string { return fmt.Sprintf("jobs:%s:deliveries", kind) }
func deadKey(kind models.JobKind) string       { return fmt.Sprintf("jobs:%s:dead", kind) }

func (q *RedisQueue) QueueRequest(ctx context.Context, kind models.JobKind, id string) error {
	if err := q.rdb.LPush(ctx, readyKey(kind), id).Err(); err != nil {
		return models.NewUnknown(errors.Wrap(err, "queue: enqueue"))
	}
	return nil
}

// Dequeue moves one message from the ready list to the processing list,
// blocking at most wait. The processing list keeps the message recoverable
// if this process dies before acknowledging.
func (q *RedisQueue) Dequeue(ctx context.Context, kind models.JobKind, wait time.Duration) (*Message, error) {
	body, err := q.rdb.BLMove(ctx, readyKey(kind), processingKey(kind), "RIGHT", "LEFT", wait).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, models.NewUnknown(errors.Wrap(err, "queue: dequeue"))
	}
	deliveries, err := q.rdb.HIncrBy(ctx, deliveriesKey(kind), body, 1).Result()
	if err != nil {
		// Delivery accounting is best effort; the message is already ours.
		q.logger.Warn("queue: could not count delivery", zap.Error(err), zap.String("body", body))
		deliveries = 1
	}
	return &Message{
		JobID:      unwrap(body),
		Kind:       kind,
		Deliveries: int(deliveries),
		body:       body,
	}, nil
}

func (q *RedisQueue) Acknowledge(ctx context.Context, m *Message) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(m.Kind), 1, m.body)
	pipe.HDel(ctx, deliveriesKey(m.Kind), m.body)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUnknown(errors.Wrap(err, "queue: acknowledge"))
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, m *Message, delay time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(m.Kind), 1, m.body)
	if delay <= 0 {
		pipe.LPush(ctx, readyKey(m.Kind), m.body)
	} else {
		pipe.ZAdd(ctx, delayedKey(m.Kind), redis.Z{
			Score:  float64(time.Now().Add(delay).Unix()),
			Member: m.body,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUnknown(errors.Wrap(err, "queue: release"))
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, m *Message) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(m.Kind), 1, m.body)
	pipe.HDel(ctx, deliveriesKey(m.Kind), m.body)
	pipe.LPush(ctx, deadKey(m.Kind), m.body)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUnknown(errors.Wrap(err, "queue: dead-letter"))
	}
	q.logger.Warn("queue: message dead-lettered",
		zap.String("kind", string(m.Kind)), zap.String("job_id", m.JobID),
		zap.Int("deliveries", m.Deliveries))
	return nil
}

// MoveDue promotes released messages whose delay has elapsed. Called
// periodically by each executor pool.
func (q *RedisQueue) MoveDue(ctx context.Context, kind models.JobKind) (int, error) {
	now := time.Now().Unix()
	bodies, err := q.rdb.ZRangeByScore(ctx, delayedKey(kind), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil {
		return 0, models.NewUnknown(errors.Wrap(err, "queue: move due"))
	}
	if len(bodies) == 0 {
		return 0, nil
	}
	pipe := q.rdb.TxPipeline()
	for _, body := range bodies {
		pipe.LPush(ctx, readyKey(kind), body)
		pipe.ZRem(ctx, delayedKey(kind), body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, models.NewUnknown(errors.Wrap(err, "queue: move due"))
	}
	return len(bodies), nil
}

// Depth reports how many messages are waiting for a kind, counting both
// ready and delayed messages.
func (q *RedisQueue) Depth(ctx context.Context, kind models.JobKind) (int64, error) {
	ready, err := q.rdb.LLen(ctx, readyKey(kind)).Result()
	if err != nil {
		return 0, models.NewUnknown(errors.Wrap(err, "queue: depth"))
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(kind)).Result()
	if err != nil {
		return 0, models.NewUnknown(errors.Wrap(err, "queue: depth"))
	}
	return ready + delayed, nil
}
