package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
)

// RequestDeepDive queues a deep-research job for a card and returns its ID
// without waiting for the report.
func (s *Service) RequestDeepDive(ctx context.Context, cardID string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.inflight.Done()

	if s.cfg.Dispatcher == nil {
		return "", fmt.Errorf("deep dive: no worker backend configured: %w", model.ErrUnavailable)
	}
	card, err := s.cfg.Store.GetImpactCard(ctx, cardID)
	if err != nil {
		return "", err
	}

	now := s.cfg.Now()
	job := &model.DeepDiveJob{
		ID:        s.cfg.NewID(),
		CardID:    card.ID,
		Topic:     deepDiveTopic(card, s.watches[card.WatchID]),
		Status:    model.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cfg.Jobs.Save(ctx, job); err != nil {
		return "", fmt.Errorf("save deep-dive job: %w", err)
	}
	metrics.DeepDiveJobs.WithLabelValues("queued").Inc()

	log := s.logger.WithContext(ctx).With(logging.CardID(card.ID), logging.JobID(job.ID))
	if err := s.cfg.Dispatcher.Dispatch(ctx, job.ID); err != nil {
		job.Status = model.JobFailed
		job.Error = err.Error()
		job.UpdatedAt = s.cfg.Now()
		if serr := s.cfg.Jobs.Save(context.WithoutCancel(ctx), job); serr != nil {
			log.Error("failed to record dispatch failure", logging.Error(serr))
		}
		metrics.DeepDiveJobs.WithLabelValues("failed").Inc()
		if errors.Is(err, model.ErrShuttingDown) {
			return "", err
		}
		return "", fmt.Errorf("dispatch deep-dive job: %w: %w", model.ErrUnavailable, err)
	}
	log.Info("deep dive requested")
	return job.ID, nil
}

// deepDiveTopic is the research brief: the card title, scoped to the watch.
func deepDiveTopic(card *model.ImpactCard, watch model.Watch) string {
	topic := card.Title
	if watch.Name != "" && !strings.Contains(strings.ToLower(topic), strings.ToLower(watch.Name)) {
		topic = watch.Name + ": " + topic
	}
	if len(card.EventTypes) > 0 {
		kinds := make([]string, len(card.EventTypes))
		for i, t := range card.EventTypes {
			kinds[i] = string(t)
		}
		topic += " (" + strings.Join(kinds, ", ") + ")"
	}
	return topic
}

// GetJobStatus reports a deep-dive job's status and report reference.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (model.JobStatusView, error) {
	job, err := s.cfg.Jobs.Get(ctx, jobID)
	if err != nil {
		return model.JobStatusView{}, err
	}
	return job.View(), nil
}

func (s *Service) GetCard(ctx context.Context, cardID string) (*model.ImpactCard, error) {
	return s.cfg.Store.GetImpactCard(ctx, cardID)
}

func (s *Service) ListCards(ctx context.Context, filter repository.CardFilter) ([]*model.ImpactCard, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, fmt.Errorf("unknown card status %q: %w", filter.Status, model.ErrValidation)
	}
	return s.cfg.Store.ListImpactCards(ctx, filter)
}

func validStatus(st model.CardStatus) bool {
	switch st {
	case model.CardOpen, model.CardReviewed, model.CardArchived:
		return true
	}
	return false
}

// ReviewCard moves an open card to Reviewed.
func (s *Service) ReviewCard(ctx context.Context, cardID string) (*model.ImpactCard, error) {
	return s.transition(ctx, cardID, "reviewed", s.cfg.Assembler.Review)
}

// ArchiveCard archives an open or reviewed card.
func (s *Service) ArchiveCard(ctx context.Context, cardID string) (*model.ImpactCard, error) {
	return s.transition(ctx, cardID, "archived", s.cfg.Assembler.Archive)
}

func (s *Service) transition(ctx context.Context, cardID, action string, fn func(context.Context, string) (*model.ImpactCard, error)) (*model.ImpactCard, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()

	card, err := fn(ctx, cardID)
	if err != nil {
		return nil, err
	}
	s.cfg.Index.IndexCard(ctx, card)
	s.notify(ctx, messaging.SubjectCardsUpdated, card, action)
	return card, nil
}

// RuleValidation is the result of checking a rule table document.
type RuleValidation struct {
	Valid   bool     `json:"valid"`
	Version string   `json:"version,omitempty"`
	Rules   int      `json:"rules"`
	Errors  []string `json:"errors,omitempty"`
}

// ValidateRules parses a YAML rule table without installing it.
func (s *Service) ValidateRules(data []byte) RuleValidation {
	table, err := rules.Parse(data)
	if err != nil {
		return RuleValidation{Errors: splitErrors(err)}
	}
	return RuleValidation{Valid: true, Version: table.Version, Rules: len(table.Rules)}
}

// splitErrors flattens errors.Join trees into one message per leaf.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
