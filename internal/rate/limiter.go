package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// Limiter enforces per-identifier and per-IP attempt budgets using
// fixed-window Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func identifierKey(identifier string) string {
	return "rl:id:" + identifier
}

func ipKey(ip string) string {
	return "rl:ip:" + ip
}

// Check reports whether the identifier+IP pair is still within its
// attempt budget without consuming an attempt.
func (l *Limiter) Check(ctx context.Context, identifier, ip string) error {
	if err := l.checkCounter(ctx, identifierKey(identifier)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, ipKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

// IncrementFailure records a failed attempt for the identifier+IP
// pair and returns ErrRateLimited once the budget is exceeded.
func (l *Limiter) IncrementFailure(ctx context.Context, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, identifierKey(identifier))
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, ipKey(ip))
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// Reset clears the failure counters after a successful authentication
// or a completed password reset.
func (l *Limiter) Reset(ctx context.Context, identifier, ip string) error {
	keys := []string{identifierKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, ipKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Attempts returns the current counter for an identifier. Missing
// keys return zero and do not reveal account existence.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, identifierKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
