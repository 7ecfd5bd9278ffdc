package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName   = "lyve-bridge"
	pingTimeout  = 5 * time.Second
	opTimeout    = time.Second
	dialTimeout  = 3 * time.Second
	poolMinIdles = 2
)

// NewRedis connects to the Redis that holds shared breaker state and the
// upstream rate budget. Every call is bounded so a slow Redis degrades to the
// fail-open paths instead of stalling requests.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.ClientName = clientName
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.MinIdleConns = poolMinIdles

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
