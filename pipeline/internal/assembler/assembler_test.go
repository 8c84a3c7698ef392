package assembler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/risk"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
	"github.com/impactwatch/impactwatch/pipeline/internal/scoring"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestAssembler(t *testing.T) (*Assembler, *repository.MemoryStore, *clock) {
	t.Helper()
	store := repository.NewMemoryStore()
	clk := &clock{now: base}
	n := 0
	a := New(store, Options{
		Window: 10 * time.Minute,
		Now:    clk.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("card-%03d", n)
		},
	}, logging.Discard())
	return a, store, clk
}

func assessment(signalID string, score float64, level model.RiskLevel, actions ...model.ActionDraft) Assessment {
	return Assessment{
		Signal: &model.CanonicalSignal{ID: signalID, WatchID: "acme", Title: "Signal " + signalID},
		Extraction: &model.ExtractionResult{
			EventType:            model.EventLaunch,
			ExtractionConfidence: 0.8,
		},
		Confidence: scoring.ConfidenceScore{Value: 0.6},
		Risk:       risk.Score{Value: score, Level: risk.LevelFor(score)},
		Decision:   rules.Decision{RiskLevel: level, Actions: actions, Rationale: "No rule matched"},
	}
}

func TestAssemble_GroupsWithinWindow(t *testing.T) {
	a, store, clk := newTestAssembler(t)
	ctx := context.Background()

	res, err := a.Assemble(ctx, assessment("cs-1", 45, model.RiskMedium), false)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "card-001", res.Card.ID)
	assert.Equal(t, model.CardOpen, res.Card.Status)
	assert.Equal(t, "Signal cs-1", res.Card.Title)

	clk.Advance(5 * time.Minute)
	res, err = a.Assemble(ctx, assessment("cs-2", 70, model.RiskHigh), false)
	require.NoError(t, err)
	assert.Equal(t, ActionAppended, res.Action)
	assert.Equal(t, "card-001", res.Card.ID)
	assert.Equal(t, []string{"cs-1", "cs-2"}, res.Card.CanonicalSignalIDs)
	assert.Equal(t, "Signal cs-1", res.Card.Title, "title follows the first signal")

	clk.Advance(6 * time.Minute)
	res, err = a.Assemble(ctx, assessment("cs-3", 10, model.RiskLow), false)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action, "window elapsed")
	assert.Equal(t, "card-002", res.Card.ID)

	cards, err := store.ListImpactCards(ctx, repository.CardFilter{WatchID: "acme"})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestAssemble_MaxMerge(t *testing.T) {
	a, _, clk := newTestAssembler(t)
	ctx := context.Background()

	first := assessment("cs-1", 72, model.RiskHigh,
		model.ActionDraft{Owner: "product", Title: "Prepare response plan", Priority: "P2", DueInDays: 5})
	first.Extraction.NeedsReview = true
	first.Extraction.ReviewReason = "event type \"Weather\" not recognized"
	first.Decision.RuleID = "competitor-launch"
	_, err := a.Assemble(ctx, first, false)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second := assessment("cs-2", 40, model.RiskMedium,
		model.ActionDraft{Owner: "Product", Title: "prepare response plan", Priority: "P1", DueInDays: 2},
		model.ActionDraft{Owner: "pricing", Title: "Review price book", Priority: "P3", DueInDays: 7})
	second.Confidence.Value = 0.9
	second.Extraction.Degraded = true
	second.Extraction.EventType = model.EventPricingChange
	second.Extraction.RecommendedActions = []model.ActionDraft{
		{Owner: "sales", Title: "Update battlecard", Priority: "P2", DueInDays: 3},
	}
	res, err := a.Assemble(ctx, second, false)
	require.NoError(t, err)

	card := res.Card
	assert.Equal(t, model.RiskHigh, card.RiskLevel, "level never drops")
	assert.Equal(t, 72.0, card.RiskScore)
	assert.Equal(t, 0.9, card.Confidence)
	assert.True(t, card.NeedsReview)
	assert.True(t, card.Degraded)
	assert.Equal(t, []model.EventType{model.EventLaunch, model.EventPricingChange}, card.EventTypes)
	assert.Equal(t, []string{"competitor-launch"}, card.RuleIDs)
	assert.Contains(t, card.Rationale, "needs review: event type \"Weather\" not recognized")

	require.Len(t, card.Actions, 3)
	plan := card.Actions[0]
	assert.Equal(t, "P1", plan.Priority, "strongest priority wins")
	assert.Equal(t, base.Add(time.Minute).Add(48*time.Hour), plan.DueAt, "earliest due date wins")
	assert.Equal(t, "competitor-launch", plan.RuleID)
	assert.Equal(t, "Update battlecard", card.Actions[2].Title)
}

func TestAssemble_MergedSignalRefreshesOpenCard(t *testing.T) {
	a, _, clk := newTestAssembler(t)
	ctx := context.Background()

	_, err := a.Assemble(ctx, assessment("cs-1", 30, model.RiskLow), false)
	require.NoError(t, err)

	// A merged update after the window still lands on the card holding the signal.
	clk.Advance(30 * time.Minute)
	update := assessment("cs-1", 65, model.RiskHigh)
	update.Signal.Title = "Better headline"
	res, err := a.Assemble(ctx, update, true)
	require.NoError(t, err)
	assert.Equal(t, ActionRefreshed, res.Action)
	assert.Equal(t, "card-001", res.Card.ID)
	assert.Equal(t, model.RiskHigh, res.Card.RiskLevel)
	assert.Equal(t, "Better headline", res.Card.Title)
	assert.Len(t, res.Card.CanonicalSignalIDs, 1)
}

func TestAssemble_MergedSignalSkipsClosedCard(t *testing.T) {
	a, store, clk := newTestAssembler(t)
	ctx := context.Background()

	res, err := a.Assemble(ctx, assessment("cs-1", 30, model.RiskLow), false)
	require.NoError(t, err)
	_, err = a.Review(ctx, res.Card.ID)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	res, err = a.Assemble(ctx, assessment("cs-1", 95, model.RiskCritical), true)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)

	stored, err := store.GetImpactCard(ctx, "card-001")
	require.NoError(t, err)
	assert.Equal(t, model.RiskLow, stored.RiskLevel, "reviewed cards are frozen")
	assert.Equal(t, model.CardReviewed, stored.Status)
}

func TestAssemble_ReviewedCardDoesNotAcceptNewSignals(t *testing.T) {
	a, _, clk := newTestAssembler(t)
	ctx := context.Background()

	res, err := a.Assemble(ctx, assessment("cs-1", 30, model.RiskLow), false)
	require.NoError(t, err)
	_, err = a.Review(ctx, res.Card.ID)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	res, err = a.Assemble(ctx, assessment("cs-2", 30, model.RiskLow), false)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "card-002", res.Card.ID)
}

func TestTransitions(t *testing.T) {
	a, _, clk := newTestAssembler(t)
	ctx := context.Background()

	res, err := a.Assemble(ctx, assessment("cs-1", 30, model.RiskLow), false)
	require.NoError(t, err)
	id := res.Card.ID

	clk.Advance(time.Hour)
	card, err := a.Review(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.CardReviewed, card.Status)
	require.NotNil(t, card.ReviewedAt)
	assert.Equal(t, base.Add(time.Hour), *card.ReviewedAt)

	_, err = a.Review(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	card, err = a.Archive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.CardArchived, card.Status)

	_, err = a.Archive(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = a.Review(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, priorityRank("P0"), priorityRank("P1"))
	assert.Less(t, priorityRank("p2"), priorityRank(""))
	assert.Equal(t, priorityRank("urgent"), priorityRank(""))
}

func TestAssemble_NoSignal(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	_, err := a.Assemble(context.Background(), Assessment{}, false)
	assert.Error(t, err)
}

func TestAssemble_ActionsStartOpen(t *testing.T) {
	a, store, _ := newTestAssembler(t)
	ctx := context.Background()

	as := assessment("cs-1", 45, model.RiskMedium,
		model.ActionDraft{Owner: "product", Title: "Prepare response plan", Priority: "P2", DueInDays: 5})
	as.Extraction.RecommendedActions = []model.ActionDraft{{Owner: "sales", Title: "Update battlecard", DueInDays: 1}}
	res, err := a.Assemble(ctx, as, false)
	require.NoError(t, err)

	require.Len(t, res.Card.Actions, 2)
	for _, act := range res.Card.Actions {
		assert.Equal(t, model.ActionOpen, act.Status, act.Title)
	}

	stored, err := store.GetImpactCard(ctx, res.Card.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionOpen, stored.Actions[0].Status)
}

func TestMergeAction_KeepsStatus(t *testing.T) {
	actions := []model.Action{
		{Owner: "product", Title: "Prepare response plan", Priority: "P2", Status: model.ActionDone, DueAt: base},
		{Owner: "sales", Title: "Update battlecard", Priority: "P3"},
	}

	actions = mergeAction(actions, schedule(model.ActionDraft{Owner: "Product", Title: "prepare response plan", Priority: "P1"}, "", base))
	actions = mergeAction(actions, schedule(model.ActionDraft{Owner: "sales", Title: "Update battlecard"}, "", base))
	actions = mergeAction(actions, schedule(model.ActionDraft{Owner: "legal", Title: "Review terms"}, "", base))

	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionDone, actions[0].Status, "completed follow-ups stay done")
	assert.Equal(t, "P1", actions[0].Priority)
	assert.Equal(t, model.ActionOpen, actions[1].Status, "missing status reads as open")
	assert.Equal(t, model.ActionOpen, actions[2].Status)
}
