package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	natsclient "github.com/impactwatch/impactwatch/common/messaging/nats"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// ErrQueueFull is returned when the local pool cannot accept more work.
var ErrQueueFull = errors.New("deep-dive queue full")

// Dispatcher hands a queued job to a worker without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// LocalPool runs jobs on a fixed number of in-process workers.
type LocalPool struct {
	runner  *Runner
	workers int
	queue   chan string
	logger  *logging.Logger

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

func NewLocalPool(runner *Runner, workers, queueSize int, logger *logging.Logger) *LocalPool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &LocalPool{
		runner:  runner,
		workers: workers,
		queue:   make(chan string, queueSize),
		logger:  logging.OrDefault(logger).With(logging.Service("deepdive-pool")),
	}
}

// Start launches the workers. Jobs run with a context detached from ctx
// cancellation so Stop can let in-flight jobs finish.
func (p *LocalPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(runCtx)
	}
	p.logger.Info("deep-dive workers started", slog.Int("workers", p.workers))
}

func (p *LocalPool) work(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.queue {
		if err := p.runner.Run(ctx, id); err != nil {
			p.logger.Error("deep-dive job failed", logging.JobID(id), logging.Error(err))
		}
	}
}

func (p *LocalPool) Dispatch(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("dispatch job %s: %w", jobID, model.ErrShuttingDown)
	}
	select {
	case p.queue <- jobID:
		return nil
	default:
		return fmt.Errorf("dispatch job %s: %w", jobID, ErrQueueFull)
	}
}

// Stop refuses new work and waits for queued jobs to drain.
func (p *LocalPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// WorkQueue is the JetStream surface the dispatcher needs.
type WorkQueue interface {
	PublishSync(ctx context.Context, subject string, data []byte) error
	Consume(ctx context.Context, streamName string, cfg natsclient.ConsumerConfig, handler messaging.MessageHandler) (func(), error)
}

type workItem struct {
	JobID string `json:"job_id"`
}

// JetStreamDispatcher publishes jobs to a durable work queue so any replica
// can run them.
type JetStreamDispatcher struct {
	queue  WorkQueue
	runner *Runner
	logger *logging.Logger
	stop   func()
}

func NewJetStreamDispatcher(queue WorkQueue, runner *Runner, logger *logging.Logger) *JetStreamDispatcher {
	return &JetStreamDispatcher{
		queue:  queue,
		runner: runner,
		logger: logging.OrDefault(logger).With(logging.Service("deepdive-jetstream")),
	}
}

func (d *JetStreamDispatcher) Dispatch(ctx context.Context, jobID string) error {
	data, err := json.Marshal(workItem{JobID: jobID})
	if err != nil {
		return err
	}
	return d.queue.PublishSync(ctx, messaging.SubjectDeepDiveRequested, data)
}

// Start consumes work items as a member of the shared worker consumer.
func (d *JetStreamDispatcher) Start(ctx context.Context) error {
	cfg := natsclient.DefaultConsumerConfig(messaging.QueueDeepDiveWorkers, messaging.SubjectDeepDiveRequested)
	stop, err := d.queue.Consume(ctx, natsclient.DeepDiveStream.Name, cfg, d.handle)
	if err != nil {
		return fmt.Errorf("start deep-dive consumer: %w", err)
	}
	d.stop = stop
	d.logger.Info("deep-dive consumer started", slog.String("consumer", cfg.Name))
	return nil
}

func (d *JetStreamDispatcher) handle(ctx context.Context, msg *messaging.Message) error {
	var item workItem
	if err := json.Unmarshal(msg.Data, &item); err != nil || item.JobID == "" {
		// Poison message; acknowledge so it is not redelivered.
		d.logger.Warn("dropping malformed deep-dive work item", slog.String("subject", msg.Subject))
		return nil
	}
	err := d.runner.Run(ctx, item.JobID)
	if errors.Is(err, model.ErrNotFound) {
		d.logger.Warn("deep-dive job expired before it ran", logging.JobID(item.JobID))
		return nil
	}
	return err
}

func (d *JetStreamDispatcher) Stop() {
	if d.stop != nil {
		d.stop()
	}
}
