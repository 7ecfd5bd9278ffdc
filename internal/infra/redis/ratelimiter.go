package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 20
	rateLimitKeyPrefix = "ratelimit:"
)

// reserveScript implements GCRA. KEYS[1] holds the theoretical arrival time in
// microseconds. ARGV: now, emission interval, burst tolerance (all µs).
// Returns 0 when the call may proceed, otherwise the µs to wait.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = tonumber(ARGV[3])
local tat = tonumber(redis.call("GET", KEYS[1]) or now)
if tat < now then
  tat = now
end
local allowAt = tat - tolerance
if now < allowAt then
  return allowAt - now
end
local nextTat = tat + interval
redis.call("SET", KEYS[1], string.format("%d", nextTat), "PX", math.ceil((nextTat - now) / 1000) + 1)
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter spaces upstream calls evenly across every bridge process
// sharing one Redis. Up to limitPerSec calls may burst before spacing applies.
type RedisRateLimiter struct {
	client    *goredis.Client
	interval  time.Duration
	tolerance time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	interval := time.Second / time.Duration(limitPerSec)
	return &RedisRateLimiter{
		client:    client,
		interval:  interval,
		tolerance: interval * time.Duration(limitPerSec-1),
		now:       nowFn,
		sleep:     sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, endpoint string) (bool, error) {
	delay, err := r.reserve(ctx, endpoint)
	if err != nil {
		return false, err
	}
	return delay == 0, nil
}

// Wait blocks until endpoint has capacity. It sleeps for the delay the script
// reports and then competes for the slot again.
func (r *RedisRateLimiter) Wait(ctx context.Context, endpoint string) error {
	for {
		delay, err := r.reserve(ctx, endpoint)
		if err != nil {
			return err
		}
		if delay == 0 {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, endpoint string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	endpoint = strings.ToLower(strings.TrimSpace(endpoint))
	if endpoint == "" {
		return 0, fmt.Errorf("endpoint is required")
	}

	waitMicros, err := reserveScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + endpoint},
		r.now().UnixMicro(),
		r.interval.Microseconds(),
		r.tolerance.Microseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return time.Duration(waitMicros) * time.Microsecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
