package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

func verifiedKey(userID string) string {
	return fmt.Sprintf("user:%s:verified", userID)
}

// CheckVerified reads the identity verification flag written by the account
// service. A missing flag means unverified.
func (r *Redis) CheckVerified(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	v, err := r.Client.Get(ctx, verifiedKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read verification of user %s: %w", userID, err)
	}
	return v == "1" || v == "true", nil
}

func (r *Redis) SetVerified(ctx context.Context, userID string, verified bool) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if !verified {
		return r.Client.Del(ctx, verifiedKey(userID)).Err()
	}
	return r.Client.Set(ctx, verifiedKey(userID), "1", 0).Err()
}
