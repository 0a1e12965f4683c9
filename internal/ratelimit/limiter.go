package ratelimit

import "context"

// RateLimiter throttles provider submissions per notification kind. The
// dispatcher waits for a slot before each chunk goes out.
type RateLimiter interface {
	Allow(ctx context.Context, kind string) (bool, error)
	Wait(ctx context.Context, kind string) error
}
