package rules

import (
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// File is the on-disk rule table.
type File struct {
	Version  string                         `yaml:"version"`
	Rules    []Definition                   `yaml:"rules"`
	Fallback map[string][]model.ActionDraft `yaml:"fallback"`
}

// Definition is one rule as written in the table file.
type Definition struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Disabled    bool      `yaml:"disabled"`
	When        Predicate `yaml:"when"`
	Then        Outcome   `yaml:"then"`
}

// Predicate fields are optional and combined with AND.
type Predicate struct {
	EventTypes    []string          `yaml:"event_types"`
	Axes          map[string]string `yaml:"axes"`
	MinRiskScore  *float64          `yaml:"min_risk_score"`
	MaxRiskScore  *float64          `yaml:"max_risk_score"`
	MinConfidence *float64          `yaml:"min_confidence"`
	MaxConfidence *float64          `yaml:"max_confidence"`
	Sectors       []string          `yaml:"sectors"`
	NeedsReview   *bool             `yaml:"needs_review"`
	Burst         *BurstDefinition  `yaml:"burst"`
}

// BurstDefinition matches when at least MinCount canonical signals for the
// watch arrived inside Window and the current risk score reaches MinRiskScore.
type BurstDefinition struct {
	MinCount     int     `yaml:"min_count"`
	Window       string  `yaml:"window"`
	MinRiskScore float64 `yaml:"min_risk_score"`
}

// Outcome is applied when a rule matches.
type Outcome struct {
	RiskLevel      string              `yaml:"risk_level"`
	AllowDowngrade bool                `yaml:"allow_downgrade"`
	Reason         string              `yaml:"reason"`
	Actions        []model.ActionDraft `yaml:"actions"`
}

// Rule is a compiled Definition.
type Rule struct {
	ID   string
	Name string

	eventTypes    map[model.EventType]struct{}
	axes          map[model.Axis]model.AxisLevel
	minRiskScore  *float64
	maxRiskScore  *float64
	minConfidence *float64
	maxConfidence *float64
	sectors       map[string]struct{}
	needsReview   *bool
	burst         *Burst

	Override       model.RiskLevel
	AllowDowngrade bool
	Reason         string
	Actions        []model.ActionDraft
}

// Burst is the compiled burst predicate.
type Burst struct {
	MinCount     int
	Window       time.Duration
	MinRiskScore float64
}

// Table is an immutable, ordered rule set. First match wins.
type Table struct {
	Version  string
	Rules    []Rule
	Fallback map[model.RiskLevel][]model.ActionDraft
}

// Input is everything a rule may look at.
type Input struct {
	WatchID     string
	Sector      string
	EventType   model.EventType
	Extraction  *model.ExtractionResult
	RiskScore   float64
	RiskLevel   model.RiskLevel
	Confidence  float64
	NeedsReview bool

	// RecentSignals counts canonical signals for the watch inside window.
	// Nil means burst predicates never match.
	RecentSignals func(window time.Duration) int
}

// Decision is the rules engine outcome.
type Decision struct {
	// RuleID is empty when no rule matched.
	RuleID    string
	RiskLevel model.RiskLevel
	Actions   []model.ActionDraft
	// Overridden is set when a rule changed the numeric level.
	Overridden bool
	// DowngradeRejected is set when a rule tried to lower the level without allow_downgrade.
	DowngradeRejected bool
	Rationale         string
}
