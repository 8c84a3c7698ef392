package gateway

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retrier runs an operation with capped exponential backoff and full jitter.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter maps the capped backoff onto the actual wait. Defaults to full jitter.
	Jitter func(time.Duration) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the capped delay before retry number attempt (1-based).
func (r Retrier) Backoff(attempt int) time.Duration {
	if r.BaseDelay <= 0 {
		return 0
	}
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx ends. attempts overrides MaxAttempts when positive.
func (r Retrier) Do(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = r.MaxAttempts
	}
	if attempts <= 0 {
		attempts = 1
	}
	jitter := r.Jitter
	if jitter == nil {
		jitter = fullJitter
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !Retryable(err) || attempt == attempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		wait := jitter(r.Backoff(attempt))
		if pe, ok := asProviderError(err); ok && pe.RetryAfter > wait {
			wait = pe.RetryAfter
			if r.MaxDelay > 0 && wait > r.MaxDelay {
				wait = r.MaxDelay
			}
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
