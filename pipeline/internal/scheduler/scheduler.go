// Package scheduler triggers ProcessWatch for every configured watch on an
// interval and drains the rate-limit retry queue between runs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/service"
)

// Processor is the part of the service the scheduler drives.
type Processor interface {
	ProcessWatch(ctx context.Context, watchID string, keywords []string) (*service.CycleReport, error)
	Watches() []model.Watch
	Sweep(now time.Time) int
}

// RetrySource yields watches whose delayed retry is due.
type RetrySource interface {
	Due(now time.Time) []string
}

type Options struct {
	Interval time.Duration
	// RetryTick is how often the retry queue is checked.
	RetryTick   time.Duration
	Concurrency int
	Now         func() time.Time
}

type Scheduler struct {
	proc   Processor
	retry  RetrySource
	opts   Options
	sem    *semaphore.Weighted
	logger *logging.Logger

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New(proc Processor, retry RetrySource, opts Options, logger *logging.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.RetryTick <= 0 {
		opts.RetryTick = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		proc:    proc,
		retry:   retry,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:  logging.OrDefault(logger).With(logging.Service("scheduler")),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs the loop until Stop or ctx cancellation. Call it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.opts.Interval),
		slog.Int("concurrency", s.opts.Concurrency))

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	retryTicker := time.NewTicker(s.opts.RetryTick)
	defer retryTicker.Stop()

	s.RunAll(ctx)
	for {
		select {
		case <-ticker.C:
			if n := s.proc.Sweep(s.opts.Now()); n > 0 {
				s.logger.Debug("evicted canonical signals", slog.Int("count", n))
			}
			s.RunAll(ctx)
		case <-retryTicker.C:
			s.RunRetries(ctx)
		case <-s.stop:
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler context cancelled")
			return
		}
	}
}

// Stop ends the loop and waits for running cycles.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped
}

// RunAll triggers every configured watch and waits for the batch.
func (s *Scheduler) RunAll(ctx context.Context) {
	watches := s.proc.Watches()
	ids := make([]string, len(watches))
	for i, w := range watches {
		ids[i] = w.ID
	}
	s.run(ctx, ids)
}

// RunRetries triggers watches whose rate-limit retry is due.
func (s *Scheduler) RunRetries(ctx context.Context) {
	if s.retry == nil {
		return
	}
	due := s.retry.Due(s.opts.Now())
	if len(due) == 0 {
		return
	}
	s.logger.Info("retrying rate-limited watches", slog.Int("count", len(due)))
	s.run(ctx, due)
}

func (s *Scheduler) run(ctx context.Context, ids []string) {
	var batch sync.WaitGroup
	for _, id := range ids {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		batch.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer batch.Done()
			defer s.sem.Release(1)
			s.process(ctx, id)
		}()
	}
	batch.Wait()
}

func (s *Scheduler) process(ctx context.Context, watchID string) {
	_, err := s.proc.ProcessWatch(ctx, watchID, nil)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrShuttingDown):
	case errors.Is(err, model.ErrRateLimited):
		s.logger.Info("watch rate limited, retry queued", logging.WatchID(watchID))
	default:
		s.logger.Warn("scheduled watch cycle failed", logging.WatchID(watchID), logging.Error(err))
	}
}
