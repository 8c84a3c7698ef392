package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	"github.com/impactwatch/impactwatch/common/middleware"
	"github.com/impactwatch/impactwatch/pipeline/internal/assembler"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/normalizer"
	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
)

// CycleReport summarizes one ProcessWatch call.
type CycleReport struct {
	RunID         string   `json:"run_id"`
	WatchID       string   `json:"watch_id"`
	Sources       int      `json:"sources"`
	FailedSources []string `json:"failed_sources,omitempty"`
	Fetched       int      `json:"fetched"`
	Rejected      int      `json:"rejected"`
	Repeats       int      `json:"repeats"`
	Created       int      `json:"canonical_created"`
	Merged        int      `json:"canonical_merged"`
	FailedSignals int      `json:"failed_signals"`
	CardIDs       []string `json:"card_ids,omitempty"`
	Degraded      bool     `json:"degraded"`
	RetryQueued   bool     `json:"retry_queued"`
}

// CardEvent is published on card creation and update. When a signer is
// configured, Signature covers the JSON encoding of the event with Signature
// left empty.
type CardEvent struct {
	CardID    string           `json:"card_id"`
	WatchID   string           `json:"watch_id"`
	Action    string           `json:"action"`
	RiskLevel model.RiskLevel  `json:"risk_level"`
	Status    model.CardStatus `json:"status"`
	At        time.Time        `json:"at"`
	Signature string           `json:"signature,omitempty"`
}

type fetched struct {
	provider string
	result   gateway.Result
	err      error
}

// ProcessWatch polls every news and search source for the watch, then runs
// new items through dedup, scoring, rules and card assembly. Empty keywords
// fall back to the configured watch.
//
// It returns an error wrapping model.ErrUnavailable when every source failed
// without a cached fallback, and model.ErrRateLimited when the failure was a
// rate limit; in that case the watch is queued for a delayed retry.
func (s *Service) ProcessWatch(ctx context.Context, watchID string, keywords []string) (*CycleReport, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()

	watch, err := s.resolveWatch(watchID, keywords)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(watch.ID)
	defer unlock()

	ctx, runID := middleware.NewRunID(ctx)
	log := s.logger.WithContext(ctx).With(logging.WatchID(watch.ID))
	start := s.cfg.Now()
	report := &CycleReport{RunID: runID, WatchID: watch.ID}

	err = s.runCycle(ctx, log, watch, report)

	s.cycles.Add(1)
	metrics.WatchCycleDuration.Observe(s.cfg.Now().Sub(start).Seconds())
	result := "ok"
	switch {
	case errors.Is(err, model.ErrRateLimited):
		result = "rate_limited"
	case errors.Is(err, model.ErrUnavailable):
		result = "unavailable"
	case err != nil:
		result = "error"
	case report.Degraded:
		result = "degraded"
	}
	metrics.WatchCycles.WithLabelValues(result).Inc()
	if err != nil {
		s.failed.Add(1)
		log.Warn("watch cycle failed", logging.Error(err))
		return report, err
	}
	log.Info("watch cycle complete",
		slog.Int("fetched", report.Fetched),
		slog.Int("created", report.Created),
		slog.Int("merged", report.Merged),
		slog.Int("cards", len(report.CardIDs)),
		slog.Bool("degraded", report.Degraded))
	return report, nil
}

func (s *Service) resolveWatch(watchID string, keywords []string) (model.Watch, error) {
	watchID = strings.TrimSpace(watchID)
	if watchID == "" {
		return model.Watch{}, fmt.Errorf("watch id is required: %w", model.ErrValidation)
	}
	watch, ok := s.watches[watchID]
	if !ok {
		watch = model.Watch{ID: watchID, Name: watchID}
	}
	if len(keywords) > 0 {
		watch.Keywords = keywords
	}
	if len(watch.Keywords) == 0 {
		return model.Watch{}, fmt.Errorf("watch %s has no keywords: %w", watchID, model.ErrValidation)
	}
	return watch, nil
}

func (s *Service) runCycle(ctx context.Context, log *slog.Logger, watch model.Watch, report *CycleReport) error {
	sources := append(s.cfg.Gateway.Providers(gateway.KindNews), s.cfg.Gateway.Providers(gateway.KindSearch)...)
	report.Sources = len(sources)
	if len(sources) == 0 {
		return fmt.Errorf("watch %s: no news or search providers registered: %w", watch.ID, model.ErrUnavailable)
	}

	results := s.fetchAll(ctx, watch, sources)

	// Work already fetched is finished even if the caller goes away.
	pctx := context.WithoutCancel(ctx)

	var rateLimited, failures int
	for _, f := range results {
		if f.err != nil {
			failures++
			report.FailedSources = append(report.FailedSources, f.provider)
			if errors.Is(f.err, model.ErrRateLimited) {
				rateLimited++
			}
			log.Warn("source fetch failed", logging.Provider(f.provider), logging.Error(f.err))
			continue
		}
		if f.result.Degraded {
			report.Degraded = true
		}
		s.ingest(ctx, pctx, log, watch, f, report)
	}

	if rateLimited > 0 || report.FailedSignals > 0 {
		s.cfg.Retry.Push(watch.ID, s.cfg.Now().Add(s.cfg.RetryDelay))
		report.RetryQueued = true
	}
	if failures == len(results) {
		if rateLimited > 0 {
			return fmt.Errorf("watch %s: every source failed: %w", watch.ID, model.ErrRateLimited)
		}
		return fmt.Errorf("watch %s: every source failed: %w", watch.ID, model.ErrUnavailable)
	}
	if failures > 0 {
		report.Degraded = true
	}
	return nil
}

// fetchAll queries every source in parallel. Individual failures are
// returned in the slice, never as a group error.
func (s *Service) fetchAll(ctx context.Context, watch model.Watch, sources []string) []fetched {
	req := gateway.Request{
		Query:   strings.Join(watch.Keywords, " OR "),
		Options: map[string]string{providers.OptionKeywords: strings.Join(watch.Keywords, ",")},
	}
	out := make([]fetched, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range sources {
		g.Go(func() error {
			res, err := s.cfg.Gateway.Fetch(gctx, name, req)
			out[i] = fetched{provider: name, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) ingest(ctx, pctx context.Context, log *slog.Logger, watch model.Watch, f fetched, report *CycleReport) {
	// Staleness runs against the cycle clock, so a cached payload cannot
	// carry items older than the horizon.
	fetchedAt := s.cfg.Now()
	signals, rejected, err := s.cfg.Normalizer.Process(pctx, &normalizer.Envelope{
		Provider:  f.provider,
		WatchID:   watch.ID,
		Payload:   f.result.Data,
		FetchedAt: fetchedAt,
	})
	if err != nil {
		log.Warn("source payload rejected", logging.Provider(f.provider), logging.Error(err))
		report.FailedSources = append(report.FailedSources, f.provider)
		report.Degraded = true
		return
	}
	report.Fetched += len(signals)
	report.Rejected += len(rejected)
	for _, rej := range rejected {
		if err := s.cfg.DLQ.Write(pctx, rej); err != nil {
			log.Error("failed to write rejected signal to dlq", logging.Error(err))
		}
	}

	for _, raw := range signals {
		fresh, err := s.cfg.Seen.MarkSeen(pctx, watch.ID, raw.SourceID)
		if err != nil {
			// Without the filter a repeat may be counted twice; the
			// per-URL source list still keeps corroboration honest.
			log.Warn("seen filter unavailable", logging.Error(err))
			fresh = true
		}
		if !fresh {
			report.Repeats++
			continue
		}
		if err := s.assess(ctx, pctx, log, watch, f.result.Degraded, raw, report); err != nil {
			log.Error("failed to process signal", slog.String("url", raw.URL), logging.Error(err))
			report.FailedSignals++
			report.Degraded = true
			// Release the key so the retried cycle picks the item up again.
			if err := s.cfg.Seen.Forget(pctx, watch.ID, raw.SourceID); err != nil {
				log.Warn("seen filter release failed", logging.Error(err))
			}
		}
	}
}

func (s *Service) assess(ctx, pctx context.Context, log *slog.Logger, watch model.Watch, degraded bool, raw model.RawSignal, report *CycleReport) error {
	out := s.cfg.Dedup.Ingest(raw)
	sig := out.Signal
	if out.Merged() {
		report.Merged++
	} else {
		report.Created++
	}

	ext := sig.Extraction
	// A degraded result came from a provider failure; try again.
	if ext == nil || out.PrimaryChanged || ext.Degraded {
		ext = s.cfg.Extractor.Extract(ctx, sig, watch.Keywords)
		s.cfg.Dedup.Annotate(watch.ID, sig.ID, ext)
		sig.Extraction = ext
	}
	if degraded && !ext.Degraded {
		ext = cloneExtraction(ext)
		ext.Degraded = true
	}

	if err := s.cfg.Store.SaveCanonicalSignal(pctx, sig); err != nil {
		return fmt.Errorf("save canonical signal %s: %w", sig.ID, err)
	}
	s.cfg.Index.IndexSignal(pctx, sig)

	now := s.cfg.Now()
	conf := s.cfg.Scoring.Confidence(s.cfg.Publishers.Publishers(), sig, ext.ExtractionConfidence, now)
	score := s.cfg.Risk.Compute(ext)
	decision := s.cfg.Rules.Evaluate(rules.Input{
		WatchID:     watch.ID,
		Sector:      watch.Sector,
		EventType:   ext.EventType,
		Extraction:  ext,
		RiskScore:   score.Value,
		RiskLevel:   score.Level,
		Confidence:  conf.Value,
		NeedsReview: ext.NeedsReview,
		RecentSignals: func(window time.Duration) int {
			n, err := s.cfg.Store.CountRecentSignals(pctx, watch.ID, now.Add(-window))
			if err != nil {
				log.Warn("burst count unavailable", logging.Error(err))
				return 0
			}
			return n
		},
	})

	res, err := s.cfg.Assembler.Assemble(pctx, assembler.Assessment{
		Signal:     sig,
		Extraction: ext,
		Confidence: conf,
		Risk:       score,
		Decision:   decision,
	}, out.Merged())
	if err != nil {
		return fmt.Errorf("assemble card for %s: %w", sig.ID, err)
	}
	if res.Action == assembler.ActionSkipped || res.Card == nil {
		return nil
	}
	if !slices.Contains(report.CardIDs, res.Card.ID) {
		report.CardIDs = append(report.CardIDs, res.Card.ID)
	}
	s.cfg.Index.IndexCard(pctx, res.Card)
	subject := messaging.SubjectCardsUpdated
	if res.Action == assembler.ActionCreated {
		subject = messaging.SubjectCardsCreated
	}
	s.notify(pctx, subject, res.Card, string(res.Action))
	return nil
}

func (s *Service) notify(ctx context.Context, subject string, card *model.ImpactCard, action string) {
	if s.cfg.Notifier == nil {
		return
	}
	ev := CardEvent{
		CardID:    card.ID,
		WatchID:   card.WatchID,
		Action:    action,
		RiskLevel: card.RiskLevel,
		Status:    card.Status,
		At:        card.UpdatedAt,
	}
	if s.cfg.Signer != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WarnContext(ctx, "card event encoding failed", logging.CardID(card.ID), logging.Error(err))
			return
		}
		ev.Signature = s.cfg.Signer.Sign(ev.CardID, ev.At, payload)
	}
	if err := s.cfg.Notifier.PublishJSON(ctx, subject, ev); err != nil {
		s.logger.WarnContext(ctx, "card notification failed", logging.CardID(card.ID), slog.String("subject", subject), logging.Error(err))
	}
}

func cloneExtraction(ext *model.ExtractionResult) *model.ExtractionResult {
	out := *ext
	return &out
}
