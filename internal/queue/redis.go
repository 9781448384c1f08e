package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue implements TaskQueue on two Redis sorted sets: a pending set
// scored by (priority, enqueue time) and a processing set scored by lease
// deadline. Claiming moves an entry between the sets atomically, so no
// reference is ever visible to two workers at once.
type RedisQueue struct {
	client     *redis.Client
	pendingKey string
	leasedKey  string
}

// claimScript pops the lowest-score pending member and parks it in the
// processing set under the supplied lease deadline.
var claimScript = redis.NewScript(`
local entry = redis.call('ZRANGE', KEYS[1], 0, 0)
if #entry == 0 then
    return false
end
redis.call('ZREM', KEYS[1], entry[1])
redis.call('ZADD', KEYS[2], ARGV[1], entry[1])
return entry[1]
`)

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, addr string, db int, namespace string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{
		client:     client,
		pendingKey: namespace + ":queue:pending",
		leasedKey:  namespace + ":queue:leased",
	}, nil
}

// Close releases the underlying Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue publishes a task reference into the pending set.
func (q *RedisQueue) Enqueue(ctx context.Context, ref Ref) error {
	member, err := encodeRef(ref)
	if err != nil {
		return err
	}

	err = q.client.ZAdd(ctx, q.pendingKey, &redis.Z{
		Score:  scoreFor(ref),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrQueueUnavailable, err)
	}

	return nil
}

// Claim atomically takes the highest-priority pending reference and leases it
// for leaseTTL. The second return value reports whether a reference was
// available.
func (q *RedisQueue) Claim(ctx context.Context, leaseTTL time.Duration) (Ref, bool, error) {
	deadline := time.Now().Add(leaseTTL).UnixMilli()

	result, err := claimScript.Run(ctx, q.client, []string{q.pendingKey, q.leasedKey}, deadline).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Ref{}, false, nil
		}
		return Ref{}, false, fmt.Errorf("%w: claim: %v", ErrQueueUnavailable, err)
	}

	member, ok := result.(string)
	if !ok {
		return Ref{}, false, fmt.Errorf("claim returned unexpected type %T", result)
	}

	ref, err := decodeRef(member)
	if err != nil {
		// Drop the malformed entry rather than redelivering it forever.
		q.client.ZRem(ctx, q.leasedKey, member)
		return Ref{}, false, err
	}

	return ref, true, nil
}

// Ack removes a claimed reference after its terminal state is persisted.
func (q *RedisQueue) Ack(ctx context.Context, ref Ref) error {
	member, err := encodeRef(ref)
	if err != nil {
		return err
	}

	if err := q.client.ZRem(ctx, q.leasedKey, member).Err(); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrQueueUnavailable, err)
	}

	return nil
}

// Nack returns a claimed reference to the pending set with its original score.
func (q *RedisQueue) Nack(ctx context.Context, ref Ref) error {
	member, err := encodeRef(ref)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leasedKey, member)
	pipe.ZAdd(ctx, q.pendingKey, &redis.Z{Score: scoreFor(ref), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: nack: %v", ErrQueueUnavailable, err)
	}

	return nil
}

// RequeueExpired moves references whose lease deadline passed back into the
// pending set, preserving their original ordering. Run periodically by the
// worker binary so crashed workers never strand a task.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.leasedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: list expired leases: %v", ErrQueueUnavailable, err)
	}

	requeued := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.leasedKey, member).Result()
		if err != nil {
			return requeued, fmt.Errorf("%w: remove expired lease: %v", ErrQueueUnavailable, err)
		}
		if removed == 0 {
			// Another reaper got here first.
			continue
		}

		ref, err := decodeRef(member)
		if err != nil {
			return requeued, err
		}

		if err := q.client.ZAdd(ctx, q.pendingKey, &redis.Z{Score: scoreFor(ref), Member: member}).Err(); err != nil {
			return requeued, fmt.Errorf("%w: requeue expired lease: %v", ErrQueueUnavailable, err)
		}
		requeued++
	}

	return requeued, nil
}

// Len reports how many references are waiting in the pending set.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: queue length: %v", ErrQueueUnavailable, err)
	}
	return n, nil
}

var _ TaskQueue = (*RedisQueue)(nil)
