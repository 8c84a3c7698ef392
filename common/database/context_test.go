package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remaining(t *testing.T, ctx context.Context) time.Duration {
	t.Helper()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	return time.Until(deadline)
}

func TestTimeouts_ZeroValueUsesDefaults(t *testing.T) {
	var to Timeouts

	ctx, cancel := to.QueryContext(context.Background())
	defer cancel()
	assert.InDelta(t, DefaultQueryTimeout, remaining(t, ctx), float64(time.Second))

	ctx, cancel = to.WriteContext(context.Background())
	defer cancel()
	assert.InDelta(t, DefaultWriteTimeout, remaining(t, ctx), float64(time.Second))

	ctx, cancel = to.BulkContext(context.Background())
	defer cancel()
	assert.InDelta(t, DefaultBulkTimeout, remaining(t, ctx), float64(time.Second))
}

func TestTimeouts_Override(t *testing.T) {
	to := Timeouts{Query: 100 * time.Millisecond}

	ctx, cancel := to.QueryContext(context.Background())
	defer cancel()
	assert.LessOrEqual(t, remaining(t, ctx), 100*time.Millisecond)

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestTimeouts_ParentCancelWins(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := Timeouts{}.WriteContext(parent)
	defer cancel()

	cancelParent()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
