package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// DefaultFallback is the generic action set used when no rule matches.
var DefaultFallback = map[model.RiskLevel][]model.ActionDraft{
	model.RiskLow: {
		{Owner: "analyst", Title: "Log signal for weekly review", Priority: "P3", DueInDays: 7},
	},
	model.RiskMedium: {
		{Owner: "product-marketing", Title: "Assess competitive positioning", Priority: "P2", DueInDays: 3},
	},
	model.RiskHigh: {
		{Owner: "product", Title: "Prepare response plan", Priority: "P1", DueInDays: 2},
		{Owner: "leadership", Title: "Brief leadership", Priority: "P2", DueInDays: 2},
	},
	model.RiskCritical: {
		{Owner: "leadership", Title: "Convene response team", Priority: "P1", DueInDays: 1},
		{Owner: "communications", Title: "Prepare external statement", Priority: "P1", DueInDays: 1},
	},
}

// DefaultTable has no rules and the default fallback actions.
func DefaultTable() *Table {
	return &Table{Version: "builtin", Fallback: DefaultFallback}
}

// LoadFile reads and compiles a rule table file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML rule table. Unknown keys are rejected.
func Parse(data []byte) (*Table, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	return Compile(f)
}

// Compile validates every definition and returns the compiled table.
func Compile(f File) (*Table, error) {
	t := &Table{Version: f.Version, Fallback: make(map[model.RiskLevel][]model.ActionDraft, len(DefaultFallback))}
	for level, actions := range DefaultFallback {
		t.Fallback[level] = actions
	}

	var errs []error
	for name, actions := range f.Fallback {
		level, ok := model.ParseRiskLevel(name)
		if !ok {
			errs = append(errs, fmt.Errorf("fallback: unknown risk level %q", name))
			continue
		}
		if err := validateActions(actions); err != nil {
			errs = append(errs, fmt.Errorf("fallback %s: %w", name, err))
			continue
		}
		t.Fallback[level] = actions
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, def := range f.Rules {
		label := def.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", label))
			continue
		}
		seen[def.ID] = true

		r, err := compileRule(def)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", label, err))
			continue
		}
		if !def.Disabled {
			t.Rules = append(t.Rules, r)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func compileRule(def Definition) (Rule, error) {
	r := Rule{
		ID:             def.ID,
		Name:           def.Name,
		minRiskScore:   def.When.MinRiskScore,
		maxRiskScore:   def.When.MaxRiskScore,
		minConfidence:  def.When.MinConfidence,
		maxConfidence:  def.When.MaxConfidence,
		needsReview:    def.When.NeedsReview,
		AllowDowngrade: def.Then.AllowDowngrade,
		Reason:         strings.TrimSpace(def.Then.Reason),
		Actions:        def.Then.Actions,
	}

	var errs []error
	if def.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}

	if len(def.When.EventTypes) > 0 {
		r.eventTypes = make(map[model.EventType]struct{}, len(def.When.EventTypes))
		for _, name := range def.When.EventTypes {
			et := model.EventType(name)
			if !et.Valid() {
				errs = append(errs, fmt.Errorf("unknown event type %q", name))
				continue
			}
			r.eventTypes[et] = struct{}{}
		}
	}

	if len(def.When.Axes) > 0 {
		r.axes = make(map[model.Axis]model.AxisLevel, len(def.When.Axes))
		for name, lvl := range def.When.Axes {
			axis, ok := model.ParseAxis(name)
			if !ok {
				errs = append(errs, fmt.Errorf("unknown axis %q", name))
				continue
			}
			level, ok := model.ParseAxisLevel(lvl)
			if !ok {
				errs = append(errs, fmt.Errorf("axis %s: unknown level %q", name, lvl))
				continue
			}
			r.axes[axis] = level
		}
	}

	if err := checkRange("risk_score", r.minRiskScore, r.maxRiskScore, 0, 100); err != nil {
		errs = append(errs, err)
	}
	if err := checkRange("confidence", r.minConfidence, r.maxConfidence, 0, 1); err != nil {
		errs = append(errs, err)
	}

	if len(def.When.Sectors) > 0 {
		r.sectors = make(map[string]struct{}, len(def.When.Sectors))
		for _, s := range def.When.Sectors {
			r.sectors[normalizeSector(s)] = struct{}{}
		}
	}

	if b := def.When.Burst; b != nil {
		window, err := time.ParseDuration(b.Window)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("burst: invalid window %q: %w", b.Window, err))
		case window <= 0:
			errs = append(errs, errors.New("burst: window must be positive"))
		case b.MinCount < 1:
			errs = append(errs, errors.New("burst: min_count must be at least 1"))
		default:
			r.burst = &Burst{MinCount: b.MinCount, Window: window, MinRiskScore: b.MinRiskScore}
		}
	}

	if def.Then.RiskLevel != "" {
		level, ok := model.ParseRiskLevel(def.Then.RiskLevel)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown risk level %q", def.Then.RiskLevel))
		}
		r.Override = level
	}
	if r.AllowDowngrade && r.Reason == "" {
		errs = append(errs, errors.New("allow_downgrade requires a reason"))
	}
	if r.Override == "" && len(r.Actions) == 0 {
		errs = append(errs, errors.New("then must set risk_level or actions"))
	}
	if err := validateActions(r.Actions); err != nil {
		errs = append(errs, err)
	}

	return r, errors.Join(errs...)
}

func checkRange(name string, lo, hi *float64, floor, ceil float64) error {
	for _, v := range []*float64{lo, hi} {
		if v != nil && (*v < floor || *v > ceil) {
			return fmt.Errorf("%s bound %v outside [%v, %v]", name, *v, floor, ceil)
		}
	}
	if lo != nil && hi != nil && *lo > *hi {
		return fmt.Errorf("min_%s %v exceeds max_%s %v", name, *lo, name, *hi)
	}
	return nil
}

func validateActions(actions []model.ActionDraft) error {
	for i, a := range actions {
		if strings.TrimSpace(a.Owner) == "" || strings.TrimSpace(a.Title) == "" {
			return fmt.Errorf("action %d: owner and title are required", i+1)
		}
		if a.DueInDays < 0 {
			return fmt.Errorf("action %d: due_in_days must not be negative", i+1)
		}
	}
	return nil
}

func normalizeSector(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
