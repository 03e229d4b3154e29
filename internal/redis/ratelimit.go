package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

var incrementWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// CheckRateLimit reports whether key is still under limit within its current
// window. When it is not, retryAfter is the time left in the window.
func (r *Redis) CheckRateLimit(ctx context.Context, key string, limit int) (allowed bool, retryAfter time.Duration, err error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	n, err := r.Client.Get(ctx, rateLimitKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("read rate limit %s: %w", key, err)
	}
	if n < limit {
		return true, 0, nil
	}

	ttl, err := r.Client.PTTL(ctx, rateLimitKey(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read rate limit ttl %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	r.log.LogSecurity("RATE_LIMIT", fmt.Sprintf("%s exceeded %d, retry after %s", key, limit, ttl))
	return false, ttl, nil
}

// IncrementRateLimit counts one hit against key. The window starts with the
// first hit.
func (r *Redis) IncrementRateLimit(ctx context.Context, key string, window time.Duration) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if err := incrementWindowScript.Run(ctx, r.Client, []string{rateLimitKey(key)}, window.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("increment rate limit %s: %w", key, err)
	}
	return nil
}
