package approval

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter tracks failed PIN attempts per actor.
type Limiter interface {
	Locked(ctx context.Context, actorID string) (bool, error)
	Fail(ctx context.Context, actorID string) error
	Reset(ctx context.Context, actorID string) error
}

type noopLimiter struct{}

func (noopLimiter) Locked(context.Context, string) (bool, error) { return false, nil }
func (noopLimiter) Fail(context.Context, string) error           { return nil }
func (noopLimiter) Reset(context.Context, string) error          { return nil }

const pinAttemptsPrefix = "approval:pin:fail:"

// RedisLimiter locks an actor out after maxAttempts failures inside window.
type RedisLimiter struct {
	cache       *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewRedisLimiter builds a Redis-backed attempt limiter.
func NewRedisLimiter(cache *redis.Client, maxAttempts int, window time.Duration) *RedisLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RedisLimiter{cache: cache, maxAttempts: maxAttempts, window: window}
}

func (l *RedisLimiter) Locked(ctx context.Context, actorID string) (bool, error) {
	n, err := l.cache.Get(ctx, pinAttemptsPrefix+actorID).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		// fail open: the PIN itself is still checked
		return false, err
	}
	return n >= l.maxAttempts, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, actorID string) error {
	key := pinAttemptsPrefix + actorID
	n, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return l.cache.Expire(ctx, key, l.window).Err()
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, actorID string) error {
	return l.cache.Del(ctx, pinAttemptsPrefix+actorID).Err()
}
