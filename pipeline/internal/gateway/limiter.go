package gateway

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// limiter applies a token bucket and an in-flight bound to one provider.
type limiter struct {
	bucket *rate.Limiter
	sem    *semaphore.Weighted
}

func newLimiter(c ClassSettings) *limiter {
	l := &limiter{bucket: rate.NewLimiter(rate.Inf, 0)}
	if c.RatePerSecond > 0 {
		burst := c.Burst
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(c.RatePerSecond), burst)
	}
	if c.MaxInFlight > 0 {
		l.sem = semaphore.NewWeighted(c.MaxInFlight)
	}
	return l
}

// acquire waits for a token and an in-flight slot.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if err := l.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if l.sem == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("concurrency limiter: %w", err)
	}
	return func() { l.sem.Release(1) }, nil
}
