package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/dlq"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/service"
)

type fakeProcessor struct {
	watches []model.Watch
	errs    map[string]error

	mu     sync.Mutex
	calls  []string
	active atomic.Int32
	peak   atomic.Int32
	hold   time.Duration
	sweeps atomic.Int32
}

func (p *fakeProcessor) ProcessWatch(_ context.Context, watchID string, _ []string) (*service.CycleReport, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(p.hold)

	p.mu.Lock()
	p.calls = append(p.calls, watchID)
	p.mu.Unlock()
	return &service.CycleReport{WatchID: watchID}, p.errs[watchID]
}

func (p *fakeProcessor) Watches() []model.Watch { return p.watches }

func (p *fakeProcessor) Sweep(time.Time) int {
	p.sweeps.Add(1)
	return 0
}

func (p *fakeProcessor) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func watches(n int) []model.Watch {
	out := make([]model.Watch, n)
	for i := range out {
		out[i] = model.Watch{ID: fmt.Sprintf("w%d", i)}
	}
	return out
}

func TestRunAll_BoundedConcurrency(t *testing.T) {
	proc := &fakeProcessor{watches: watches(8), hold: 20 * time.Millisecond}
	s := New(proc, nil, Options{Concurrency: 2}, logging.Discard())

	s.RunAll(context.Background())

	assert.Len(t, proc.called(), 8)
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
}

func TestRunAll_FailuresDoNotStopBatch(t *testing.T) {
	proc := &fakeProcessor{
		watches: watches(3),
		errs: map[string]error{
			"w0": model.ErrUnavailable,
			"w1": model.ErrRateLimited,
		},
	}
	s := New(proc, nil, Options{}, logging.Discard())
	s.RunAll(context.Background())
	assert.ElementsMatch(t, []string{"w0", "w1", "w2"}, proc.called())
}

func TestRunRetries(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	retry := dlq.NewRetryQueue()
	retry.Push("later", now.Add(time.Hour))
	retry.Push("due", now.Add(-time.Minute))

	proc := &fakeProcessor{}
	s := New(proc, retry, Options{Now: func() time.Time { return now }}, logging.Discard())
	s.RunRetries(context.Background())

	assert.Equal(t, []string{"due"}, proc.called())
	assert.Equal(t, 1, retry.Len())
}

func TestStartStop(t *testing.T) {
	proc := &fakeProcessor{watches: watches(2)}
	s := New(proc, dlq.NewRetryQueue(), Options{Interval: 10 * time.Millisecond, RetryTick: 5 * time.Millisecond}, logging.Discard())

	go s.Start(context.Background())
	assert.Eventually(t, func() bool { return proc.sweeps.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.GreaterOrEqual(t, len(proc.called()), 4)
}

func TestStart_ContextCancel(t *testing.T) {
	proc := &fakeProcessor{}
	s := New(proc, nil, Options{Interval: time.Hour}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
