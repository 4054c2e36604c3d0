package ratelimit

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis returns a limiter shared by every ferry process using the same
// Redis database. Redis errors fail open.
func NewRedis(addr, password string, db int, logger *slog.Logger) (Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedis(client, logger), nil
}

func newRedis(client *redis.Client, logger *slog.Logger) *redisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisLimiter{
		client:  client,
		logger:  logger,
		prefix:  "ferry:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (rl *redisLimiter) Allow(key string, limit int, d time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if d <= 0 {
		d = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	k := rl.prefix + key
	n, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		rl.logger.Error("redis rate limiter", "op", "incr", "error", err)
		return Decision{Allowed: true}
	}
	if n == 1 {
		if err := rl.client.Expire(ctx, k, d).Err(); err != nil {
			rl.logger.Error("redis rate limiter", "op", "expire", "error", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = d
	}
	return Decision{
		Allowed:   int(n) <= limit,
		Count:     int(n),
		WindowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}
