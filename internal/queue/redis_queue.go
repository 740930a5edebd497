package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"propertyops/internal/config"
)

// RedisQueue coordinates ready, in-flight, and scheduled job lanes in Redis.
// Redis only dispatches; the Postgres claim is the authoritative lease, so a
// stale Redis entry results in a no-op claim, never a double execution.
type RedisQueue struct {
	client        *redis.Client
	queues        []string
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
}

// NewRedisClient builds a plain Redis client from config. Shared with the
// rate limiter so both use the same connection settings.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	return NewRedisQueueWithClient(NewRedisClient(cfg), cfg)
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, cfg config.Config) *RedisQueue {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = []string{"default"}
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		queues:        queues,
		inflightKey:   "jobs:inflight",
		scheduledKey:  "jobs:scheduled",
		jobMetaPrefix: "jobs:meta:",
		visibilityTTL: visibility,
	}
}

// Ping verifies connectivity, used by the redis health probe.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) readyKey(queue string) string {
	return fmt.Sprintf("jobs:ready:%s", queue)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Enqueue inserts a job into either the scheduled set or its ready lane.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, queue string, runAt time.Time) error {
	if queue == "" {
		queue = "default"
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "queue", queue)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, q.readyKey(queue), jobID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule moves a job into the scheduled set for deferred execution,
// used for retry backoff.
func (q *RedisQueue) Schedule(ctx context.Context, jobID, queue string, runAt time.Time) error {
	if queue == "" {
		queue = "default"
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "queue", queue)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into ready lanes. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey(q.jobQueue(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a job from ready lanes (configured order) and places it into inflight with a visibility timeout.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.queues)+1)
	for _, lane := range q.queues {
		keys = append(keys, q.readyKey(lane))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(q.jobQueue(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops a job from ready, scheduled, and in-flight lanes after a
// cancellation.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, lane := range q.queues {
		pipe.LRem(ctx, q.readyKey(lane), 0, jobID)
	}
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZRem(ctx, q.scheduledKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the total length of all ready lanes.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.queues))
	for _, lane := range q.queues {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(lane)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

func (q *RedisQueue) jobQueue(ctx context.Context, jobID string) string {
	queue, err := q.client.HGet(ctx, q.metaKey(jobID), "queue").Result()
	if err != nil || queue == "" {
		return "default"
	}
	return queue
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
