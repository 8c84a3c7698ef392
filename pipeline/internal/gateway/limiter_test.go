package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := newLimiter(ClassSettings{})
	for i := 0; i < 100; i++ {
		release, err := l.acquire(context.Background())
		require.NoError(t, err)
		release()
	}
}

func TestLimiter_InFlightBound(t *testing.T) {
	l := newLimiter(ClassSettings{MaxInFlight: 1})

	release, err := l.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release, err = l.acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestLimiter_TokenBucket(t *testing.T) {
	l := newLimiter(ClassSettings{RatePerSecond: 0.01, Burst: 1})

	release, err := l.acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx)
	assert.ErrorContains(t, err, "rate limiter")
}
