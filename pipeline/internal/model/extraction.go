package model

import "strings"

// EventType is the closed taxonomy of business events.
type EventType string

const (
	EventLaunch           EventType = "Launch"
	EventPricingChange    EventType = "PricingChange"
	EventPartnership      EventType = "Partnership"
	EventRegulatory       EventType = "Regulatory"
	EventSecurityIncident EventType = "SecurityIncident"
	EventMerger           EventType = "M&A"
	EventFunding          EventType = "Funding"
	EventHiring           EventType = "Hiring"
	EventLayoff           EventType = "Layoff"
	EventFeatureUpdate    EventType = "FeatureUpdate"
	EventOutage           EventType = "Outage"
	EventRebranding       EventType = "Rebranding"
	EventMarketExpansion  EventType = "MarketExpansion"
	EventUnclassified     EventType = "Unclassified"
)

// EventTypes lists the taxonomy in display order.
var EventTypes = []EventType{
	EventLaunch, EventPricingChange, EventPartnership, EventRegulatory,
	EventSecurityIncident, EventMerger, EventFunding, EventHiring, EventLayoff,
	EventFeatureUpdate, EventOutage, EventRebranding, EventMarketExpansion,
	EventUnclassified,
}

// Valid reports whether e belongs to the taxonomy.
func (e EventType) Valid() bool {
	for _, t := range EventTypes {
		if t == e {
			return true
		}
	}
	return false
}

// Axis is a business impact dimension.
type Axis string

const (
	AxisMarket     Axis = "market"
	AxisProduct    Axis = "product"
	AxisPricing    Axis = "pricing"
	AxisRegulatory Axis = "regulatory"
	AxisBrand      Axis = "brand"
)

// Axes lists every impact axis.
var Axes = []Axis{AxisMarket, AxisProduct, AxisPricing, AxisRegulatory, AxisBrand}

// ParseAxis resolves an axis name case-insensitively.
func ParseAxis(s string) (Axis, bool) {
	a := Axis(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Axes {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// AxisLevel is the qualitative magnitude of an impact.
type AxisLevel string

const (
	LevelLow    AxisLevel = "low"
	LevelMedium AxisLevel = "medium"
	LevelHigh   AxisLevel = "high"
)

// ParseAxisLevel accepts low, medium (or med) and high in any case.
func ParseAxisLevel(s string) (AxisLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, true
	case "medium", "med":
		return LevelMedium, true
	case "high":
		return LevelHigh, true
	}
	return "", false
}

// Value maps low/medium/high onto 0, 0.5 and 1.
func (l AxisLevel) Value() float64 {
	switch l {
	case LevelMedium:
		return 0.5
	case LevelHigh:
		return 1.0
	default:
		return 0
	}
}

// Rank orders levels; unknown levels rank below low.
func (l AxisLevel) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// AxisImpact is the level and rationale for one axis.
type AxisImpact struct {
	Level     AxisLevel `json:"level"`
	Rationale string    `json:"rationale,omitempty"`
}

// ActionDraft is a recommended follow-up before it is scheduled on a card.
type ActionDraft struct {
	Owner     string `json:"owner" yaml:"owner"`
	Title     string `json:"title" yaml:"title"`
	Priority  string `json:"priority" yaml:"priority"`
	DueInDays int    `json:"due_in_days" yaml:"due_in_days"`
}

// ExtractionResult is the structured reading of one canonical signal.
type ExtractionResult struct {
	EventType            EventType           `json:"event_type"`
	ImpactAxes           map[Axis]AxisImpact `json:"impact_axes"`
	AffectedEntities     []string            `json:"affected_entities,omitempty"`
	RecommendedActions   []ActionDraft       `json:"recommended_actions,omitempty"`
	ExtractionConfidence float64             `json:"extraction_confidence"`
	Details              EventDetails        `json:"details"`
	NeedsReview          bool                `json:"needs_review"`
	ReviewReason         string              `json:"review_reason,omitempty"`
	Degraded             bool                `json:"degraded"`
	Repaired             bool                `json:"repaired"`
}

// AxisLevel returns the level recorded for axis, or "" when missing.
func (r *ExtractionResult) AxisLevel(axis Axis) AxisLevel {
	if r == nil {
		return ""
	}
	return r.ImpactAxes[axis].Level
}

// EventDetails is a tagged variant: at most one field is set, matching EventType.
type EventDetails struct {
	Launch           *LaunchDetails           `json:"launch,omitempty"`
	PricingChange    *PricingChangeDetails    `json:"pricing_change,omitempty"`
	Partnership      *PartnershipDetails      `json:"partnership,omitempty"`
	Regulatory       *RegulatoryDetails       `json:"regulatory,omitempty"`
	SecurityIncident *SecurityIncidentDetails `json:"security_incident,omitempty"`
	Merger           *MergerDetails           `json:"merger,omitempty"`
	Funding          *FundingDetails          `json:"funding,omitempty"`
	Hiring           *HeadcountDetails        `json:"hiring,omitempty"`
	Layoff           *HeadcountDetails        `json:"layoff,omitempty"`
	FeatureUpdate    *LaunchDetails           `json:"feature_update,omitempty"`
	Outage           *OutageDetails           `json:"outage,omitempty"`
	Rebranding       *RebrandingDetails       `json:"rebranding,omitempty"`
	MarketExpansion  *MarketExpansionDetails  `json:"market_expansion,omitempty"`
}

// Empty reports whether no variant is set.
func (d EventDetails) Empty() bool {
	return d == EventDetails{}
}

type LaunchDetails struct {
	Product      string `json:"product,omitempty"`
	Availability string `json:"availability,omitempty"`
}

type PricingChangeDetails struct {
	OldPrice  string  `json:"old_price,omitempty"`
	NewPrice  string  `json:"new_price,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
}

type PartnershipDetails struct {
	Partners []string `json:"partners,omitempty"`
	Scope    string   `json:"scope,omitempty"`
}

type RegulatoryDetails struct {
	Regulator    string `json:"regulator,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Action       string `json:"action,omitempty"`
}

type SecurityIncidentDetails struct {
	Severity        string `json:"severity,omitempty"`
	RecordsAffected int64  `json:"records_affected,omitempty"`
}

type MergerDetails struct {
	Acquirer  string `json:"acquirer,omitempty"`
	Target    string `json:"target,omitempty"`
	DealValue string `json:"deal_value,omitempty"`
}

type FundingDetails struct {
	Amount    string   `json:"amount,omitempty"`
	Round     string   `json:"round,omitempty"`
	Investors []string `json:"investors,omitempty"`
}

type HeadcountDetails struct {
	Headcount int    `json:"headcount,omitempty"`
	Teams     string `json:"teams,omitempty"`
}

type OutageDetails struct {
	Service  string `json:"service,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type RebrandingDetails struct {
	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name,omitempty"`
}

type MarketExpansionDetails struct {
	Regions []string `json:"regions,omitempty"`
}
