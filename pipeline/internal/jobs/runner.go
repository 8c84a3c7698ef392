package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
)

// Researcher is the part of the gateway a job needs.
type Researcher interface {
	Complete(ctx context.Context, provider, prompt string, options map[string]string) (gateway.Result, error)
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Store    Store
	Gateway  Researcher
	Provider string
	// SourceTarget is passed to the provider when positive.
	SourceTarget int
	// Publisher receives status notifications; nil disables them.
	Publisher messaging.Publisher
	Now       func() time.Time
	Logger    *logging.Logger
}

// Runner executes one job: Queued -> Running -> Ready|Failed.
type Runner struct {
	cfg    RunnerConfig
	logger *logging.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{cfg: cfg, logger: logging.OrDefault(cfg.Logger).With(logging.Service("deepdive"))}
}

// Run executes the job. Jobs already in a terminal state are left alone, so
// redelivered work items are harmless. Provider failures end in Failed and
// are not returned; only bookkeeping errors are.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	log := r.logger.WithContext(ctx).With(logging.JobID(job.ID), logging.CardID(job.CardID))

	if err := r.update(ctx, job, model.JobRunning); err != nil {
		return err
	}

	if r.cfg.Gateway == nil || r.cfg.Provider == "" {
		job.Error = fmt.Sprintf("no deep-research provider configured: %v", model.ErrUnavailable)
		return r.update(ctx, job, model.JobFailed)
	}

	opts := map[string]string{}
	if r.cfg.SourceTarget > 0 {
		opts[providers.OptionSourceTarget] = strconv.Itoa(r.cfg.SourceTarget)
	}
	res, err := r.cfg.Gateway.Complete(ctx, r.cfg.Provider, job.Topic, opts)
	if err != nil {
		log.Warn("deep research failed", logging.Provider(r.cfg.Provider), logging.Error(err))
		job.Error = err.Error()
		return r.update(ctx, job, model.JobFailed)
	}

	var resp providers.DeepResearchResponse
	if err := json.Unmarshal(res.Data, &resp); err != nil {
		job.Error = fmt.Sprintf("decode deep research response: %v", err)
		return r.update(ctx, job, model.JobFailed)
	}
	if strings.TrimSpace(resp.ContentRef) == "" {
		job.Error = "deep research returned no report reference"
		return r.update(ctx, job, model.JobFailed)
	}

	generated := r.cfg.Now().UTC()
	if resp.GeneratedAtMs > 0 {
		generated = time.UnixMilli(resp.GeneratedAtMs).UTC()
	}
	job.ReportRef = resp.ContentRef
	job.SourceCount = resp.SourceCount
	job.GeneratedAt = &generated
	job.Degraded = res.Degraded
	job.Error = ""
	if err := r.update(ctx, job, model.JobReady); err != nil {
		return err
	}
	log.Info("deep research ready", slog.String("report_ref", job.ReportRef), slog.Int("sources", job.SourceCount))
	return nil
}

func (r *Runner) update(ctx context.Context, job *model.DeepDiveJob, status model.JobStatus) error {
	job.Status = status
	job.UpdatedAt = r.cfg.Now()
	if err := r.cfg.Store.Save(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	metrics.DeepDiveJobs.WithLabelValues(strings.ToLower(string(status))).Inc()
	r.notify(ctx, job)
	return nil
}

func (r *Runner) notify(ctx context.Context, job *model.DeepDiveJob) {
	if r.cfg.Publisher == nil {
		return
	}
	subject := messaging.DeepDiveStatusSubject(strings.ToLower(string(job.Status)))
	if err := r.cfg.Publisher.PublishJSON(ctx, subject, job.View()); err != nil {
		r.logger.WarnContext(ctx, "job status notification failed", logging.JobID(job.ID), logging.Error(err))
	}
}
