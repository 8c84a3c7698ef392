// Package rules maps scored signals onto risk level overrides and follow-up
// actions using an ordered, declarative rule table.
package rules

import (
	"fmt"
	"log/slog"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
)

// TableSource returns the current rule table snapshot.
type TableSource interface {
	Rules() *Table
}

type staticSource struct{ t *Table }

func (s staticSource) Rules() *Table { return s.t }

// Static wraps a fixed table.
func Static(t *Table) TableSource { return staticSource{t: t} }

// Engine evaluates inputs against the current table.
type Engine struct {
	source TableSource
	logger *logging.Logger
}

func NewEngine(source TableSource, logger *logging.Logger) *Engine {
	if source == nil {
		source = Static(DefaultTable())
	}
	return &Engine{source: source, logger: logging.OrDefault(logger).With(logging.Service("rules"))}
}

// Evaluate returns the decision of the first matching rule, or the numeric
// level with its fallback actions when nothing matches.
func (e *Engine) Evaluate(in Input) Decision {
	table := e.source.Rules()
	if table == nil {
		table = DefaultTable()
	}

	for i := range table.Rules {
		r := &table.Rules[i]
		if !r.Matches(in) {
			continue
		}
		metrics.RuleMatches.WithLabelValues(r.ID).Inc()
		return e.apply(table, r, in)
	}

	metrics.RuleMatches.WithLabelValues("fallback").Inc()
	return Decision{
		RiskLevel: in.RiskLevel,
		Actions:   table.Fallback[in.RiskLevel],
		Rationale: fmt.Sprintf("No rule matched; %s actions applied", in.RiskLevel),
	}
}

func (e *Engine) apply(table *Table, r *Rule, in Input) Decision {
	d := Decision{RuleID: r.ID, RiskLevel: in.RiskLevel}

	switch {
	case r.Override == "" || r.Override == in.RiskLevel:
	case r.Override.Rank() > in.RiskLevel.Rank():
		d.RiskLevel = r.Override
		d.Overridden = true
	case r.AllowDowngrade:
		d.RiskLevel = r.Override
		d.Overridden = true
		e.logger.Warn("rule lowered risk level",
			logging.RuleID(r.ID), logging.WatchID(in.WatchID),
			slog.String("from", string(in.RiskLevel)), slog.String("to", string(r.Override)),
			slog.String("reason", r.Reason))
	default:
		d.DowngradeRejected = true
		e.logger.Warn("rule downgrade ignored without allow_downgrade",
			logging.RuleID(r.ID), logging.WatchID(in.WatchID),
			slog.String("level", string(in.RiskLevel)), slog.String("requested", string(r.Override)))
	}

	d.Actions = r.Actions
	if len(d.Actions) == 0 {
		d.Actions = table.Fallback[d.RiskLevel]
	}

	name := r.Name
	if name == "" {
		name = r.ID
	}
	switch {
	case d.Overridden && r.Reason != "":
		d.Rationale = fmt.Sprintf("Rule %q set risk to %s: %s", name, d.RiskLevel, r.Reason)
	case d.Overridden:
		d.Rationale = fmt.Sprintf("Rule %q set risk to %s", name, d.RiskLevel)
	default:
		d.Rationale = fmt.Sprintf("Rule %q matched", name)
	}
	return d
}

// Matches reports whether every predicate of r holds for in.
func (r *Rule) Matches(in Input) bool {
	if r.eventTypes != nil {
		if _, ok := r.eventTypes[in.EventType]; !ok {
			return false
		}
	}
	for axis, want := range r.axes {
		if in.Extraction.AxisLevel(axis).Rank() < want.Rank() {
			return false
		}
	}
	if r.minRiskScore != nil && in.RiskScore < *r.minRiskScore {
		return false
	}
	if r.maxRiskScore != nil && in.RiskScore > *r.maxRiskScore {
		return false
	}
	if r.minConfidence != nil && in.Confidence < *r.minConfidence {
		return false
	}
	if r.maxConfidence != nil && in.Confidence > *r.maxConfidence {
		return false
	}
	if r.sectors != nil {
		if _, ok := r.sectors[normalizeSector(in.Sector)]; !ok {
			return false
		}
	}
	if r.needsReview != nil && in.NeedsReview != *r.needsReview {
		return false
	}
	if r.burst != nil {
		if in.RecentSignals == nil || in.RiskScore < r.burst.MinRiskScore {
			return false
		}
		if in.RecentSignals(r.burst.Window) < r.burst.MinCount {
			return false
		}
	}
	return true
}
