package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"lottery-reservation/internal/logger"
)

type Redis struct {
	Client    *redis.Client
	log       *logger.Logger
	opTimeout time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, opTimeout time.Duration) *Redis {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &Redis{Client: client, log: log, opTimeout: opTimeout}
}

// bounded caps every store call so a slow Redis denies instead of hanging.
func (r *Redis) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func lockKey(houseID string) string {
	return fmt.Sprintf("lock:reconcile:{%s}", houseID)
}

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireHouseLock takes the reconciliation lease for a house. ok is false
// when another holder owns it.
func (r *Redis) AcquireHouseLock(ctx context.Context, houseID string, ttl time.Duration) (token string, ok bool, err error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	token = uuid.NewString()
	ok, err = r.Client.SetNX(ctx, lockKey(houseID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock for house %s: %w", houseID, err)
	}
	r.log.LogRedis("LOCK", lockKey(houseID), fmt.Sprintf("acquired=%t", ok))
	return token, ok, nil
}

// ReleaseHouseLock deletes the lease only if it is still owned by token.
func (r *Redis) ReleaseHouseLock(ctx context.Context, houseID, token string) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	released, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey(houseID)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock for house %s: %w", houseID, err)
	}
	if released == 0 {
		r.log.Warn("REDIS", fmt.Sprintf("Lock for house %s expired or was taken over before release", houseID))
	}
	return nil
}
