package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"lottery-reservation/internal/models"
)

const queuePollInterval = 200 * time.Millisecond

var sendScript = redis.NewScript(`
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// receiveScript first returns messages whose visibility expired to the ready
// list, then claims up to ARGV[3] of them until ARGV[1] + ARGV[2].
var receiveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('RPUSH', KEYS[1], id)
end
local out = {}
for i = 1, tonumber(ARGV[3]) do
	local id = redis.call('RPOP', KEYS[1])
	if not id then break end
	local body = redis.call('HGET', KEYS[3], id)
	if body then
		redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), id)
		local n = redis.call('HINCRBY', KEYS[4], id, 1)
		table.insert(out, id)
		table.insert(out, body)
		table.insert(out, n)
	end
end
return out
`)

var deleteMessageScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return redis.call('HDEL', KEYS[3], ARGV[1])
`)

// WorkQueue is an at-least-once queue with visibility timeouts. A received
// message that is not deleted is delivered again once its visibility expires.
type WorkQueue struct {
	*Redis
	name       string
	visibility time.Duration
	now        func() time.Time
}

type QueueOption func(*WorkQueue)

// WithQueueClock replaces time.Now when computing visibility deadlines.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *WorkQueue) { q.now = now }
}

func NewWorkQueue(r *Redis, name string, visibility time.Duration, opts ...QueueOption) *WorkQueue {
	q := &WorkQueue{Redis: r, name: name, visibility: visibility, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *WorkQueue) keys() []string {
	return []string{
		fmt.Sprintf("queue:{%s}:ready", q.name),
		fmt.Sprintf("queue:{%s}:inflight", q.name),
		fmt.Sprintf("queue:{%s}:bodies", q.name),
		fmt.Sprintf("queue:{%s}:receives", q.name),
	}
}

func (q *WorkQueue) Send(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	id := uuid.NewString()
	keys := q.keys()
	if err := sendScript.Run(ctx, q.Client, []string{keys[0], keys[2]}, id, body).Err(); err != nil {
		return "", fmt.Errorf("send to queue %s: %w", q.name, err)
	}
	q.log.LogRedis("SEND", q.name, "message "+id)
	return id, nil
}

// Receive long-polls for up to wait and returns at most max messages. It
// returns an empty slice when nothing arrived in time.
func (q *WorkQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]models.QueueMessage, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs, err := q.claim(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(queuePollInterval):
		}
	}
}

func (q *WorkQueue) claim(ctx context.Context, max int) ([]models.QueueMessage, error) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	raw, err := receiveScript.Run(ctx, q.Client, q.keys(),
		q.now().UnixMilli(), q.visibility.Milliseconds(), max).Slice()
	if err != nil {
		return nil, fmt.Errorf("receive from queue %s: %w", q.name, err)
	}

	msgs := make([]models.QueueMessage, 0, len(raw)/3)
	for i := 0; i+2 < len(raw); i += 3 {
		id, _ := raw[i].(string)
		body, _ := raw[i+1].(string)
		count, _ := raw[i+2].(int64)
		msgs = append(msgs, models.QueueMessage{ID: id, Body: []byte(body), ReceiveCount: int(count)})
	}
	return msgs, nil
}

// Delete acknowledges a message so it is never delivered again.
func (q *WorkQueue) Delete(ctx context.Context, id string) error {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	if err := deleteMessageScript.Run(ctx, q.Client, q.keys(), id).Err(); err != nil {
		return fmt.Errorf("delete message %s from queue %s: %w", id, q.name, err)
	}
	return nil
}

// Depth returns the number of ready and in-flight messages.
func (q *WorkQueue) Depth(ctx context.Context) (ready, inflight int64, err error) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	keys := q.keys()
	pipe := q.Client.TxPipeline()
	readyCmd := pipe.LLen(ctx, keys[0])
	inflightCmd := pipe.ZCard(ctx, keys[1])
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("read depth of queue %s: %w", q.name, err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}
