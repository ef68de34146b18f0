// Package ratelimit throttles data-plane bursts per caller.
//
// Quota protects the monthly meter; this limiter protects the renderer from
// short spikes. It fails open on Redis trouble — availability wins, and the
// quota check still stands behind it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/bfitz887/pdf-api/internal/cache"
	"github.com/bfitz887/pdf-api/internal/config"
)

const window = time.Minute

// Limiter implements sliding-window rate limiting using Redis
type Limiter struct {
	redis *cache.Redis
	limit int
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
}

// NewLimiter creates a rate limiter
func NewLimiter(redis *cache.Redis, cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		redis: redis,
		limit: cfg.RequestsPerMinute,
	}
}

func key(caller string) string {
	return fmt.Sprintf("ratelimit:sliding:%s", caller)
}

// Check records a request for the caller and reports whether it is allowed.
// Sliding window over a sorted set: score and member are the request's
// timestamp, old entries age out on each check.
func (l *Limiter) Check(ctx context.Context, caller string) (*Result, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	k := key(caller)

	pipe := l.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("caller", caller).Msg("Failed to check rate limit")
		// Fail open on Redis errors
		return &Result{Allowed: true, Remaining: int64(l.limit), Limit: l.limit}, nil
	}

	currentCount := countCmd.Val()
	result := &Result{Limit: l.limit}

	if currentCount >= int64(l.limit) {
		result.Allowed = false
		result.RetryAfter = window

		// Retry once the oldest entry in the window ages out
		oldest, err := l.redis.Client.ZRangeWithScores(ctx, k, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(window).Sub(now)
			if result.RetryAfter <= 0 {
				result.RetryAfter = time.Second
			}
		}
		return result, nil
	}

	err := l.redis.Client.ZAdd(ctx, k, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	}).Err()
	if err != nil {
		log.Warn().Err(err).Str("caller", caller).Msg("Failed to add rate limit entry")
	}
	l.redis.Client.Expire(ctx, k, window*2)

	result.Allowed = true
	result.Remaining = int64(l.limit) - currentCount - 1
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result, nil
}

// Reset clears the window for a caller
func (l *Limiter) Reset(ctx context.Context, caller string) error {
	return l.redis.Client.Del(ctx, key(caller)).Err()
}
