package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound alerts with a token bucket
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing rps events per second with the given burst.
// Non-positive values fall back to one event per second and a burst of one.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or context is cancelled
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
