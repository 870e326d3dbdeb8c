package clients

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request is allowed right now
	Allow() bool

	// Wait blocks until a request is allowed or ctx is done
	Wait(ctx context.Context) error
}

// NewRateLimiter creates a token bucket limiter with the given rate
// (requests per second) and burst size. A non-positive rate disables limiting.
func NewRateLimiter(rps float64, burst int) RateLimiter {
	if rps <= 0 {
		return unlimited{}
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type unlimited struct{}

func (unlimited) Allow() bool { return true }

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
