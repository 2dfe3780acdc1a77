package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"rest-lifecycle/internal/model"
)

// RedisQueue implementation using Redis lists. Jobs move atomically from
// the queue list to a processing list when dequeued and stay there until
// acknowledged.
//
// Completions are routed to receivers held in process memory, so a queue is
// owned by one instance: scope the key with InstanceKey, and Purge what a
// previous run of the same instance left behind, since nobody waits for it.
type RedisQueue struct {
	client      *redis.Client
	key         string
	processing  string
	pollTimeout time.Duration
	logger      *slog.Logger
}

// InstanceKey scopes base to one service instance.
func InstanceKey(base, instance string) string {
	return base + ":" + instance
}

func NewRedisQueue(addr string, password string, db int, key string, logger *slog.Logger) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Try to ping to ensure connection, but don't fail fatally to allow retry
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable", slog.String("addr", addr), slog.String("error", err.Error()))
	}

	return NewRedisQueueWithClient(rdb, key, logger)
}

// NewRedisQueueWithClient uses an existing client.
func NewRedisQueueWithClient(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:      client,
		key:         key,
		processing:  key + ":processing",
		pollTimeout: time.Second,
		logger:      logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "queue: encode job %s", job.ID)
	}
	// Use LPUSH to add to the head
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return errors.Wrapf(err, "queue: push job %s", job.ID)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		// Move from the tail of the queue to the head of the processing list
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.logger.Error("redis dequeue failed, retrying", slog.String("error", err.Error()))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error("dropping undecodable job", slog.String("error", err.Error()), slog.String("raw", raw))
			if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
				q.logger.Error("failed to remove undecodable job", slog.String("error", err.Error()))
			}
			continue
		}

		return &Delivery{
			Job: &job,
			ack: func(ctx context.Context) error {
				return errors.Wrapf(q.client.LRem(ctx, q.processing, 1, raw).Err(), "queue: ack job %s", job.ID)
			},
		}, nil
	}
}

// Purge deletes the queue and processing lists and returns how many jobs
// they held. Jobs left by a previous run have no receiver in this process.
func (q *RedisQueue) Purge(ctx context.Context) (int, error) {
	var queued, processing *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queued = pipe.LLen(ctx, q.key)
		processing = pipe.LLen(ctx, q.processing)
		pipe.Del(ctx, q.key, q.processing)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "queue: purge")
	}
	return int(queued.Val() + processing.Val()), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
