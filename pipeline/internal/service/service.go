// Package service orchestrates the pipeline: it turns a watch trigger into
// canonical signals and impact cards, and fronts card and deep-dive operations
// for the HTTP handlers and the scheduler.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/impactwatch/impactwatch/common/audit"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	"github.com/impactwatch/impactwatch/pipeline/internal/assembler"
	"github.com/impactwatch/impactwatch/pipeline/internal/dedup"
	"github.com/impactwatch/impactwatch/pipeline/internal/dlq"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
	"github.com/impactwatch/impactwatch/pipeline/internal/jobs"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/normalizer"
	"github.com/impactwatch/impactwatch/pipeline/internal/refdata"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/risk"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
	"github.com/impactwatch/impactwatch/pipeline/internal/scoring"
	"github.com/impactwatch/impactwatch/pipeline/internal/search"
)

// Fetcher is the gateway surface used to poll sources.
type Fetcher interface {
	Fetch(ctx context.Context, provider string, req gateway.Request) (gateway.Result, error)
	Providers(kind gateway.Kind) []string
}

// Extractor classifies a canonical signal. It always returns a result.
type Extractor interface {
	Extract(ctx context.Context, sig *model.CanonicalSignal, keywords []string) *model.ExtractionResult
}

// PublisherSource yields the current publisher credibility table.
type PublisherSource interface {
	Publishers() *refdata.PublisherTable
}

// Config wires a Service. Index, DLQ, Retry, Notifier and Signer are optional.
type Config struct {
	Gateway    Fetcher
	Normalizer *normalizer.Processor
	Seen       dedup.SeenFilter
	Dedup      *dedup.Engine
	Store      repository.Store
	Publishers PublisherSource
	Scoring    scoring.Params
	Extractor  Extractor
	Risk       risk.Weights
	Rules      *rules.Engine
	Assembler  *assembler.Assembler
	Jobs       jobs.Store
	Dispatcher jobs.Dispatcher

	Index      search.Indexer
	DLQ        dlq.Writer
	Retry      *dlq.RetryQueue
	RetryDelay time.Duration
	Notifier   messaging.Publisher
	Signer     *audit.EventSigner

	Watches     []model.Watch
	DedupWindow time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *logging.Logger
}

// Service is safe for concurrent use. Calls for one watch are serialized;
// different watches proceed in parallel.
type Service struct {
	cfg     Config
	watches map[string]model.Watch
	logger  *logging.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	startedAt time.Time
	cycles    atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Gateway == nil:
		return nil, fmt.Errorf("service: gateway is required")
	case cfg.Normalizer == nil:
		return nil, fmt.Errorf("service: normalizer is required")
	case cfg.Dedup == nil:
		return nil, fmt.Errorf("service: dedup engine is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("service: store is required")
	case cfg.Assembler == nil:
		return nil, fmt.Errorf("service: assembler is required")
	case cfg.Rules == nil:
		return nil, fmt.Errorf("service: rules engine is required")
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("service: extractor is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if cfg.Publishers == nil {
		cfg.Publishers = defaultPublishers{refdata.DefaultPublisherTable()}
	}
	if cfg.Seen == nil {
		cfg.Seen = dedup.NewMemorySeenFilter(cfg.DedupWindow, cfg.Now)
	}
	if cfg.Index == nil {
		cfg.Index = search.Nop{}
	}
	if cfg.DLQ == nil {
		cfg.DLQ = (*dlq.Queue)(nil)
	}
	if cfg.Retry == nil {
		cfg.Retry = dlq.NewRetryQueue()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.Jobs == nil {
		cfg.Jobs = jobs.NewMemoryStore()
	}
	if cfg.Scoring.Weights == (scoring.Weights{}) {
		cfg.Scoring = scoring.DefaultParams()
	}
	if cfg.Risk == nil {
		cfg.Risk = risk.DefaultWeights()
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}

	watches := make(map[string]model.Watch, len(cfg.Watches))
	for _, w := range cfg.Watches {
		watches[w.ID] = w
	}
	return &Service{
		cfg:       cfg,
		watches:   watches,
		logger:    logging.OrDefault(cfg.Logger).With(logging.Service("pipeline")),
		locks:     make(map[string]*sync.Mutex),
		startedAt: cfg.Now(),
	}, nil
}

type defaultPublishers struct{ t *refdata.PublisherTable }

func (d defaultPublishers) Publishers() *refdata.PublisherTable { return d.t }

// Watches returns the configured watches.
func (s *Service) Watches() []model.Watch {
	out := make([]model.Watch, len(s.cfg.Watches))
	copy(out, s.cfg.Watches)
	return out
}

// RetryQueue exposes the rate-limit retry queue to the scheduler.
func (s *Service) RetryQueue() *dlq.RetryQueue { return s.cfg.Retry }

// Restore re-seeds the dedup index from signals persisted inside the window.
func (s *Service) Restore(ctx context.Context) (int, error) {
	since := s.cfg.Now().Add(-s.cfg.DedupWindow)
	signals, err := s.cfg.Store.ListCanonicalSignalsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("restore dedup index: %w", err)
	}
	for _, sig := range signals {
		s.cfg.Dedup.Restore(sig)
	}
	s.logger.InfoContext(ctx, "dedup index restored", slog.Int("signals", len(signals)))
	return len(signals), nil
}

// Sweep evicts canonical signals and seen keys that fell out of the window.
func (s *Service) Sweep(now time.Time) int {
	evicted := s.cfg.Dedup.Sweep(now)
	if m, ok := s.cfg.Seen.(*dedup.MemorySeenFilter); ok {
		m.Prune()
	}
	return evicted
}

// begin registers an in-flight operation. It fails once Close has started.
func (s *Service) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return model.ErrShuttingDown
	}
	s.inflight.Add(1)
	return nil
}

// Close stops accepting work and waits for in-flight operations, or for ctx.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight work: %w", ctx.Err())
	}
}

func (s *Service) lock(watchID string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[watchID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[watchID] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Health is the service's contribution to /healthz.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Cycles        uint64 `json:"cycles"`
	FailedCycles  uint64 `json:"failed_cycles"`
	RetryPending  int    `json:"retry_pending"`
	Store         string `json:"store"`
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:        "ok",
		UptimeSeconds: int64(s.cfg.Now().Sub(s.startedAt).Seconds()),
		Cycles:        s.cycles.Load(),
		FailedCycles:  s.failed.Load(),
		RetryPending:  s.cfg.Retry.Len(),
		Store:         "ok",
	}
	if err := s.cfg.Store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Store = err.Error()
	}
	return h
}
