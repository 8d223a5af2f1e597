package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window throttle shared across portal instances.
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
}

// NewRedisLimiter returns a throttle backed by the given Redis client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: cfg,
	}
}

func (r *RedisLimiter) Check(ctx context.Context, username, ip string) (time.Duration, error) {
	if retry, err := r.checkKey(ctx, loginUserKey(username)); err != nil {
		return retry, err
	}
	if r.config.EnableIPThrottle && ip != "" {
		if retry, err := r.checkKey(ctx, loginIPKey(ip)); err != nil {
			return retry, err
		}
	}
	return 0, nil
}

func (r *RedisLimiter) RecordFailure(ctx context.Context, username, ip string) error {
	if err := r.bumpKey(ctx, loginUserKey(username)); err != nil {
		return err
	}
	if r.config.EnableIPThrottle && ip != "" {
		if err := r.bumpKey(ctx, loginIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisLimiter) Reset(ctx context.Context, username, ip string) error {
	keys := []string{loginUserKey(username)}
	if ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisLimiter) Attempts(ctx context.Context, username string) (int, error) {
	count, err := r.client.Get(ctx, loginUserKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (r *RedisLimiter) checkKey(ctx context.Context, key string) (time.Duration, error) {
	count, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(r.config.MaxAttempts) {
		return 0, nil
	}

	retry, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if retry < 0 {
		retry = r.config.Window
	}
	return retry, ErrRateLimited
}

func (r *RedisLimiter) bumpKey(ctx context.Context, key string) error {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Fixed-window semantics: the TTL is set only for the first hit.
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}
