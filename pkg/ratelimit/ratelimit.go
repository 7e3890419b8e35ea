package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter that
// counts job submissions per client over a fixed window.
type Limiter struct {
	store  extratelimit.Limiter
	window time.Duration
}

func NewLimiter(rdb *redis.Client, perMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(perMinute),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store, window: time.Minute}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store, window: time.Minute}
}

func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(clientID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// RetryAfter is how long a rejected client should wait before trying again.
func (l *Limiter) RetryAfter() time.Duration {
	return l.window
}

func key(clientID string) string {
	return fmt.Sprintf("ratelimit:submit:%s", clientID)
}
