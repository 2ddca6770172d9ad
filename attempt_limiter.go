package erpauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var errLimiterRedisUnavailable = errors.New("attempt limiter redis unavailable")

// loginAttemptLimiter tracks failed credential checks per identity in a
// rolling window. Counters live in Redis so the lockout holds across
// processes; the window starts at the first failure and is not extended by
// later ones.
type loginAttemptLimiter struct {
	redis  *redis.Client
	config LockoutConfig
}

func newLoginAttemptLimiter(redisClient *redis.Client, cfg LockoutConfig) *loginAttemptLimiter {
	return &loginAttemptLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *loginAttemptLimiter) key(identity string) string {
	return l.config.RedisPrefix + ":" + identity
}

// Check reports whether the identity has reached the failure threshold.
// Locked identities are rejected before the password is ever inspected.
func (l *loginAttemptLimiter) Check(ctx context.Context, identity string) (bool, error) {
	if l == nil || l.redis == nil || l.config.MaxAttempts <= 0 {
		return false, nil
	}

	val, err := l.redis.Get(ctx, l.key(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errLimiterRedisUnavailable, err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, nil
	}

	return count >= int64(l.config.MaxAttempts), nil
}

// RecordFailure adds one failed attempt and reports whether the identity is
// now past the threshold.
func (l *loginAttemptLimiter) RecordFailure(ctx context.Context, identity string) (bool, error) {
	if l == nil || l.redis == nil || l.config.MaxAttempts <= 0 {
		return false, nil
	}

	key := l.key(identity)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLimiterRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", errLimiterRedisUnavailable, err)
		}
	}

	return count > int64(l.config.MaxAttempts), nil
}

// RecordSuccess clears the failure counter unless the identity has already
// crossed the threshold; an in-force lockout survives a correct password for
// the rest of the window.
func (l *loginAttemptLimiter) RecordSuccess(ctx context.Context, identity string) error {
	if l == nil || l.redis == nil || l.config.MaxAttempts <= 0 {
		return nil
	}

	key := l.key(identity)

	val, err := l.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", errLimiterRedisUnavailable, err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err == nil && count >= int64(l.config.MaxAttempts) {
		return nil
	}

	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", errLimiterRedisUnavailable, err)
	}

	return nil
}
