// Package ratelimit protects the observability HTTP surface from scrape
// storms with a fixed-window counter backed by Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter keyed by caller identity (bearer
// subject, or remote IP as a fallback), backed by a shared Redis instance so
// the limit holds across process restarts and multiple replicas.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func New(addr, password string, db int, limit int, window time.Duration) *Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Limiter{client: client, limit: limit, window: window}
}

func (l *Limiter) Close() error { return l.client.Close() }

func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Allow reports whether the caller identified by key may proceed, failing
// open (allowing the request) if Redis itself is unreachable: an outage of
// the rate limiter must not take down the observability surface it guards.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "ratelimit:" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		_ = l.client.Expire(ctx, redisKey, l.window).Err()
	}
	return count <= int64(l.limit), nil
}
