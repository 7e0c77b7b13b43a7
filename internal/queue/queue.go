// Package queue provides the at-least-once job hand-off between the intake
// layer and the worker pool, built on a Redis reliable-list pair.
//
// A dequeue atomically moves the job reference from the main list to a
// processing list and records a visibility deadline. Only an explicit Ack
// removes the reference permanently; references whose deadline passes are
// swept back onto the main list by ReapExpired, so a worker crash between
// dequeue and ack never loses a job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when no job became available within the
// blocking timeout.
var ErrEmpty = errors.New("queue empty")

const (
	mainKey       = "intelligence:queue"
	processingKey = "intelligence:queue:processing"
	deadlinesKey  = "intelligence:queue:deadlines"
)

// Queue is the job hand-off interface.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks up to timeout for a job reference. The returned
	// reference stays invisible to other workers until Ack or until the
	// visibility timeout elapses.
	Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, error)
	// Ack removes a delivered reference permanently.
	Ack(ctx context.Context, jobID uuid.UUID) error
	// ReapExpired requeues references whose visibility deadline has passed
	// and returns how many were requeued.
	ReapExpired(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// RedisQueue implements Queue on go-redis/v9.
type RedisQueue struct {
	client     *redis.Client
	visibility time.Duration
}

// NewRedisQueue creates a RedisQueue. visibility bounds how long a dequeued
// reference may stay unacknowledged before it becomes deliverable again.
func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	return &RedisQueue{client: client, visibility: visibility}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, mainKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	raw, err := q.client.BLMove(ctx, mainKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return uuid.Nil, ErrEmpty
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("dequeue job: %w", err)
	}

	jobID, err := uuid.Parse(raw)
	if err != nil {
		// Garbage reference; drop it rather than redelivering forever.
		q.client.LRem(ctx, processingKey, 1, raw)
		return uuid.Nil, fmt.Errorf("dequeue job: malformed reference %q", raw)
	}

	deadline := float64(time.Now().Add(q.visibility).UnixMilli())
	if err := q.client.ZAdd(ctx, deadlinesKey, redis.Z{Score: deadline, Member: raw}).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("record visibility deadline: %w", err)
	}
	return jobID, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	raw := jobID.String()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, raw)
	pipe.ZRem(ctx, deadlinesKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// reapScript moves a single expired reference back onto the main list. The
// check-then-move runs inside Redis so a concurrent Ack cannot race a
// requeue into a duplicate entry: a member already removed from the
// processing list (acked, or adopted with a fresher deadline) is never
// pushed back.
//
// KEYS[1] deadlines zset, KEYS[2] processing list, KEYS[3] main list.
// ARGV[1] member, ARGV[2] now (ms).
var reapScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

func (q *RedisQueue) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	expired, err := q.client.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan visibility deadlines: %w", err)
	}

	requeued := 0
	for _, member := range expired {
		n, runErr := reapScript.Run(ctx, q.client,
			[]string{deadlinesKey, processingKey, mainKey},
			member, now).Int()
		if runErr != nil {
			return requeued, fmt.Errorf("requeue expired reference: %w", runErr)
		}
		requeued += n
	}

	if err := q.adoptOrphans(ctx); err != nil {
		return requeued, err
	}
	return requeued, nil
}

// adoptOrphans gives a visibility deadline to processing entries that have
// none. The move and the deadline write in Dequeue are two commands; a
// worker dying between them strands the reference in the processing list
// where the deadline scan cannot see it. Adopted entries flow through the
// normal expiry path one visibility period later. ZAddNX never disturbs a
// live delivery that already recorded its own deadline.
func (q *RedisQueue) adoptOrphans(ctx context.Context) error {
	members, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan processing list: %w", err)
	}

	deadline := float64(time.Now().Add(q.visibility).UnixMilli())
	for _, member := range members {
		if err := q.client.ZAddNX(ctx, deadlinesKey,
			redis.Z{Score: deadline, Member: member}).Err(); err != nil {
			return fmt.Errorf("adopt orphaned reference: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, mainKey).Result()
}

// Compile-time check that RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)
