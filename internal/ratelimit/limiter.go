package ratelimit

import "context"

// RateLimiter throttles outbound calls per upstream endpoint so that every
// bridge process together stays under the platform's request budget.
type RateLimiter interface {
	Allow(ctx context.Context, endpoint string) (bool, error)
	Wait(ctx context.Context, endpoint string) error
}
