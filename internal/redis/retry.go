package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var incrementRetryScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

// RetryCounter counts failed attempts per id. Counters expire after ttl of
// inactivity.
type RetryCounter struct {
	*Redis
	prefix string
	ttl    time.Duration
}

func NewRetryCounter(r *Redis, prefix string, ttl time.Duration) *RetryCounter {
	return &RetryCounter{Redis: r, prefix: prefix, ttl: ttl}
}

func (c *RetryCounter) key(id string) string {
	return fmt.Sprintf("%s:retries:%s", c.prefix, id)
}

func (c *RetryCounter) Increment(ctx context.Context, id string) (int, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	n, err := incrementRetryScript.Run(ctx, c.Client, []string{c.key(id)}, c.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("increment retries of %s: %w", id, err)
	}
	return n, nil
}

func (c *RetryCounter) Clear(ctx context.Context, id string) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := c.Client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("clear retries of %s: %w", id, err)
	}
	return nil
}
