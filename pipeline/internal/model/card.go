package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RiskLevel is the qualitative severity of an impact card.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// ParseRiskLevel resolves a level name case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, l := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, true
		}
	}
	return "", false
}

// Rank orders levels from Low (1) to Critical (4).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// MaxRiskLevel returns the more severe of a and b.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CardStatus is the impact card lifecycle state.
type CardStatus string

const (
	CardOpen     CardStatus = "Open"
	CardReviewed CardStatus = "Reviewed"
	CardArchived CardStatus = "Archived"
)

// CanTransition reports whether s may move to next.
func (s CardStatus) CanTransition(next CardStatus) bool {
	switch s {
	case CardOpen:
		return next == CardReviewed || next == CardArchived
	case CardReviewed:
		return next == CardArchived
	default:
		return false
	}
}

// ActionStatus tracks a follow-up's progress.
type ActionStatus string

const (
	ActionOpen ActionStatus = "Open"
	ActionDone ActionStatus = "Done"
)

// Action is a scheduled follow-up on a card.
type Action struct {
	Owner    string       `json:"owner"`
	Title    string       `json:"title"`
	Priority string       `json:"priority"`
	Status   ActionStatus `json:"status"`
	DueAt    time.Time    `json:"due_at"`
	RuleID   string       `json:"rule_id,omitempty"`
}

// ImpactCard is the decision-ready artifact grouping related canonical signals.
type ImpactCard struct {
	ID                 string      `json:"id"`
	WatchID            string      `json:"watch_id"`
	Title              string      `json:"title"`
	CanonicalSignalIDs []string    `json:"canonical_signal_ids"`
	EventTypes         []EventType `json:"event_types"`
	RiskLevel          RiskLevel   `json:"risk_level"`
	RiskScore          float64     `json:"risk_score"`
	Confidence         float64     `json:"confidence"`
	Actions            []Action    `json:"actions"`
	Rationale          []string    `json:"rationale,omitempty"`
	RuleIDs            []string    `json:"rule_ids,omitempty"`
	Status             CardStatus  `json:"status"`
	NeedsReview        bool        `json:"needs_review"`
	Degraded           bool        `json:"degraded"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	ReviewedAt         *time.Time  `json:"reviewed_at,omitempty"`
	ArchivedAt         *time.Time  `json:"archived_at,omitempty"`
}

// Clone returns a deep copy of the card.
func (c *ImpactCard) Clone() *ImpactCard {
	if c == nil {
		return nil
	}
	out := *c
	out.CanonicalSignalIDs = slices.Clone(c.CanonicalSignalIDs)
	out.EventTypes = slices.Clone(c.EventTypes)
	out.Actions = slices.Clone(c.Actions)
	out.Rationale = slices.Clone(c.Rationale)
	out.RuleIDs = slices.Clone(c.RuleIDs)
	if c.ReviewedAt != nil {
		t := *c.ReviewedAt
		out.ReviewedAt = &t
	}
	if c.ArchivedAt != nil {
		t := *c.ArchivedAt
		out.ArchivedAt = &t
	}
	return &out
}

// HasSignal reports whether the card already references signalID.
func (c *ImpactCard) HasSignal(signalID string) bool {
	for _, id := range c.CanonicalSignalIDs {
		if id == signalID {
			return true
		}
	}
	return false
}

// Transition moves the card to next, stamping the matching timestamp.
func (c *ImpactCard) Transition(next CardStatus, at time.Time) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("card %s %s -> %s: %w", c.ID, c.Status, next, ErrInvalidTransition)
	}
	c.Status = next
	c.UpdatedAt = at
	switch next {
	case CardReviewed:
		c.ReviewedAt = &at
	case CardArchived:
		c.ArchivedAt = &at
	}
	return nil
}
