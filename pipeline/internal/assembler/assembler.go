// Package assembler groups scored canonical signals into impact cards and
// drives the card lifecycle.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/risk"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
	"github.com/impactwatch/impactwatch/pipeline/internal/scoring"
)

// DefaultWindow is how long a card stays open for new signals.
const DefaultWindow = 10 * time.Minute

// Assessment is everything scored about one canonical signal.
type Assessment struct {
	Signal     *model.CanonicalSignal
	Extraction *model.ExtractionResult
	Confidence scoring.ConfidenceScore
	Risk       risk.Score
	Decision   rules.Decision
}

// Action describes what Assemble did with an assessment.
type Action string

const (
	ActionCreated   Action = "created"
	ActionAppended  Action = "appended"
	ActionRefreshed Action = "refreshed"
	// ActionSkipped means the signal belongs to a card that no longer accepts updates.
	ActionSkipped Action = "skipped"
)

// Result is the outcome of Assemble.
type Result struct {
	Card   *model.ImpactCard
	Action Action
}

type Options struct {
	Window time.Duration
	Now    func() time.Time
	NewID  func() string
}

// Assembler owns card creation, merging and transitions.
type Assembler struct {
	store  repository.Store
	opts   Options
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store repository.Store, opts Options, logger *logging.Logger) *Assembler {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Assembler{
		store:  store,
		opts:   opts,
		logger: logging.OrDefault(logger).With(logging.Service("assembler")),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serializes card writes for one watch.
func (a *Assembler) lock(watchID string) func() {
	a.mu.Lock()
	l, ok := a.locks[watchID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[watchID] = l
	}
	a.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Assemble places the assessed signal on a card. A merged signal that is
// already on a card refreshes that card while it is Open and is skipped
// otherwise. Everything else joins the watch's Open card from the current
// window or opens a new one.
func (a *Assembler) Assemble(ctx context.Context, as Assessment, merged bool) (Result, error) {
	if as.Signal == nil {
		return Result{}, errors.New("assessment has no signal")
	}
	watchID := as.Signal.WatchID
	unlock := a.lock(watchID)
	defer unlock()

	now := a.opts.Now()
	log := a.logger.WithContext(ctx).With(logging.WatchID(watchID), logging.SignalID(as.Signal.ID))

	if merged {
		card, err := a.store.FindCardBySignal(ctx, watchID, as.Signal.ID)
		switch {
		case err == nil && card.Status != model.CardOpen:
			log.Debug("signal update ignored for closed card",
				logging.CardID(card.ID), slog.String("status", string(card.Status)))
			metrics.CardsAssembled.WithLabelValues(string(ActionSkipped), string(card.RiskLevel)).Inc()
			return Result{Card: card, Action: ActionSkipped}, nil
		case err == nil:
			apply(card, as, now)
			return a.save(ctx, log, card, ActionRefreshed)
		case !errors.Is(err, model.ErrNotFound):
			return Result{}, fmt.Errorf("find card for signal %s: %w", as.Signal.ID, err)
		}
	}

	card, err := a.store.LoadOpenCard(ctx, watchID, now.Add(-a.opts.Window))
	action := ActionAppended
	switch {
	case errors.Is(err, model.ErrNotFound):
		card = &model.ImpactCard{
			ID:        a.opts.NewID(),
			WatchID:   watchID,
			Title:     as.Signal.Title,
			Status:    model.CardOpen,
			CreatedAt: now,
		}
		action = ActionCreated
	case err != nil:
		return Result{}, fmt.Errorf("load open card for watch %s: %w", watchID, err)
	}

	apply(card, as, now)
	return a.save(ctx, log, card, action)
}

func (a *Assembler) save(ctx context.Context, log *slog.Logger, card *model.ImpactCard, action Action) (Result, error) {
	if err := a.store.SaveImpactCard(ctx, card); err != nil {
		return Result{}, fmt.Errorf("save card %s: %w", card.ID, err)
	}
	metrics.CardsAssembled.WithLabelValues(string(action), string(card.RiskLevel)).Inc()
	log.Info("impact card assembled",
		logging.CardID(card.ID),
		slog.String("action", string(action)),
		slog.String("risk_level", string(card.RiskLevel)),
		slog.Int("signals", len(card.CanonicalSignalIDs)))
	return Result{Card: card, Action: action}, nil
}

// Review moves an Open card to Reviewed.
func (a *Assembler) Review(ctx context.Context, cardID string) (*model.ImpactCard, error) {
	return a.transition(ctx, cardID, model.CardReviewed)
}

// Archive moves an Open or Reviewed card to Archived.
func (a *Assembler) Archive(ctx context.Context, cardID string) (*model.ImpactCard, error) {
	return a.transition(ctx, cardID, model.CardArchived)
}

func (a *Assembler) transition(ctx context.Context, cardID string, next model.CardStatus) (*model.ImpactCard, error) {
	card, err := a.store.GetImpactCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	unlock := a.lock(card.WatchID)
	defer unlock()

	// Reload under the watch lock so a concurrent append is not lost.
	card, err = a.store.GetImpactCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := card.Transition(next, a.opts.Now()); err != nil {
		return nil, err
	}
	if err := a.store.SaveImpactCard(ctx, card); err != nil {
		return nil, fmt.Errorf("save card %s: %w", card.ID, err)
	}
	metrics.CardsAssembled.WithLabelValues(strings.ToLower(string(next)), string(card.RiskLevel)).Inc()
	a.logger.WithContext(ctx).Info("impact card transitioned",
		logging.CardID(card.ID), logging.WatchID(card.WatchID), slog.String("status", string(next)))
	return card, nil
}

// apply folds one assessment into the card. Severity fields only ever grow.
func apply(card *model.ImpactCard, as Assessment, now time.Time) {
	sig := as.Signal
	if !card.HasSignal(sig.ID) {
		card.CanonicalSignalIDs = append(card.CanonicalSignalIDs, sig.ID)
	}
	if len(card.CanonicalSignalIDs) > 0 && card.CanonicalSignalIDs[0] == sig.ID {
		card.Title = sig.Title
	}

	ext := as.Extraction
	if ext == nil {
		ext = sig.Extraction
	}
	if ext != nil && ext.EventType != "" && !slices.Contains(card.EventTypes, ext.EventType) {
		card.EventTypes = append(card.EventTypes, ext.EventType)
	}

	level := as.Decision.RiskLevel
	if level == "" {
		level = as.Risk.Level
	}
	card.RiskLevel = model.MaxRiskLevel(card.RiskLevel, level)
	card.RiskScore = max(card.RiskScore, as.Risk.Value)
	card.Confidence = max(card.Confidence, as.Confidence.Value)

	for _, d := range as.Decision.Actions {
		card.Actions = mergeAction(card.Actions, schedule(d, as.Decision.RuleID, now))
	}
	if ext != nil {
		for _, d := range ext.RecommendedActions {
			card.Actions = mergeAction(card.Actions, schedule(d, "", now))
		}
		card.NeedsReview = card.NeedsReview || ext.NeedsReview
		card.Degraded = card.Degraded || ext.Degraded
	}

	if id := as.Decision.RuleID; id != "" && !slices.Contains(card.RuleIDs, id) {
		card.RuleIDs = append(card.RuleIDs, id)
	}

	lines := append(as.Risk.Rationale(), as.Confidence.Rationale()...)
	if as.Decision.Rationale != "" {
		lines = append(lines, as.Decision.Rationale)
	}
	if ext != nil && ext.ReviewReason != "" {
		lines = append(lines, "needs review: "+ext.ReviewReason)
	}
	for _, line := range lines {
		if !slices.Contains(card.Rationale, line) {
			card.Rationale = append(card.Rationale, line)
		}
	}

	card.UpdatedAt = now
}

func schedule(d model.ActionDraft, ruleID string, now time.Time) model.Action {
	return model.Action{
		Owner:    d.Owner,
		Title:    d.Title,
		Priority: d.Priority,
		Status:   model.ActionOpen,
		DueAt:    now.Add(time.Duration(d.DueInDays) * 24 * time.Hour),
		RuleID:   ruleID,
	}
}

// mergeAction adds act or folds it into the existing action with the same
// owner and title, keeping the earliest due date and the strongest priority.
// A folded action keeps its status.
func mergeAction(actions []model.Action, act model.Action) []model.Action {
	for i := range actions {
		cur := &actions[i]
		if !strings.EqualFold(cur.Owner, act.Owner) || !strings.EqualFold(cur.Title, act.Title) {
			continue
		}
		if act.DueAt.Before(cur.DueAt) {
			cur.DueAt = act.DueAt
		}
		if priorityRank(act.Priority) < priorityRank(cur.Priority) {
			cur.Priority = act.Priority
		}
		if cur.RuleID == "" {
			cur.RuleID = act.RuleID
		}
		if cur.Status == "" {
			cur.Status = model.ActionOpen
		}
		return actions
	}
	return append(actions, act)
}

// priorityRank orders P0 before P1 and so on; anything else sorts last.
func priorityRank(p string) int {
	p = strings.TrimSpace(p)
	if len(p) >= 2 && (p[0] == 'P' || p[0] == 'p') {
		if n, err := strconv.Atoi(p[1:]); err == nil && n >= 0 {
			return n
		}
	}
	return 1 << 16
}
