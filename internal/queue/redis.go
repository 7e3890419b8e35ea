package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLease        = 2 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond

	requeueBatch = 100
)

// KEYS: pending list, lease zset, in-flight hash.
// ARGV: lease deadline (unix ms), receipt.
var receiveScript = redis.NewScript(`
local body = redis.call('RPOP', KEYS[1])
if not body then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[2], body)
return body
`)

// KEYS: lease zset, in-flight hash, pending list.
// ARGV: now (unix ms), batch size.
var requeueScript = redis.NewScript(`
local receipts = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, receipt in ipairs(receipts) do
  local body = redis.call('HGET', KEYS[2], receipt)
  redis.call('ZREM', KEYS[1], receipt)
  redis.call('HDEL', KEYS[2], receipt)
  if body then
    redis.call('RPUSH', KEYS[3], body)
  end
end
return #receipts
`)

// RedisQueue is a reliable queue on plain Redis data structures. Producers
// LPUSH onto a pending list. A consumer atomically pops a message and files
// it under a fresh receipt with a lease deadline. Ack deletes the receipt; the
// reaper pushes bodies of expired receipts back to the consumer end of the
// pending list.
type RedisQueue struct {
	client       redis.UniversalClient
	pending      string
	leases       string
	inflight     string
	lease        time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

type Option func(*RedisQueue)

func WithLease(d time.Duration) Option {
	return func(q *RedisQueue) { q.lease = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(q *RedisQueue) { q.pollInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) { q.now = now }
}

func NewRedisQueue(client redis.UniversalClient, prefix string, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		pending:      prefix + ":pending",
		leases:       prefix + ":leases",
		inflight:     prefix + ":inflight",
		lease:        DefaultLease,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, body []byte) error {
	if err := q.client.LPush(ctx, q.pending, body).Err(); err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		d, err := q.tryReceive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		timer.Reset(q.pollInterval)
	}
}

func (q *RedisQueue) tryReceive(ctx context.Context) (*Delivery, error) {
	receipt := uuid.NewString()
	deadline := q.now().Add(q.lease).UnixMilli()

	body, err := receiveScript.Run(ctx, q.client,
		[]string{q.pending, q.leases, q.inflight},
		deadline, receipt,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("receive", err)
	}
	return &Delivery{Receipt: receipt, Body: []byte(body)}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, receipt string) error {
	var removed *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, q.leases, receipt)
		pipe.HDel(ctx, q.inflight, receipt)
		return nil
	})
	if err != nil {
		return unavailable("ack", err)
	}
	if removed.Val() == 0 {
		return ErrLeaseExpired
	}
	return nil
}

func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.client,
		[]string{q.leases, q.inflight, q.pending},
		strconv.FormatInt(q.now().UnixMilli(), 10), requeueBatch,
	).Int()
	if err != nil {
		return 0, unavailable("requeue", err)
	}
	return n, nil
}

// Depth reports how many messages are waiting and how many are leased.
func (q *RedisQueue) Depth(ctx context.Context) (pending, inflight int64, err error) {
	pipe := q.client.Pipeline()
	p := pipe.LLen(ctx, q.pending)
	f := pipe.ZCard(ctx, q.leases)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, unavailable("depth", err)
	}
	return p.Val(), f.Val(), nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
