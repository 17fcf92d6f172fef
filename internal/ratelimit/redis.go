package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cooldowns between service instances. A key is accepted when
// SET NX succeeds; the PX expiry is the cooldown.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, fmt.Sprintf("%s:%s", r.prefix, key), 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}
