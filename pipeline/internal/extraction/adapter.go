// Package extraction turns a canonical signal into a structured
// ExtractionResult through the extraction provider class of the gateway.
// Provider failures and malformed output degrade to Unclassified results
// flagged for review; they never stop card assembly.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
)

// RepairDiscount multiplies the confidence of results recovered by repair.
const RepairDiscount = 0.5

// Completer is the slice of the gateway the adapter needs.
type Completer interface {
	Complete(ctx context.Context, provider, prompt string, options map[string]string) (gateway.Result, error)
}

// Adapter classifies signals with one extraction provider.
type Adapter struct {
	gw       Completer
	provider string
	logger   *logging.Logger
}

// NewAdapter creates an adapter. An empty provider name means extraction is
// disabled and every result is a degraded Unclassified.
func NewAdapter(gw Completer, provider string, logger *logging.Logger) *Adapter {
	return &Adapter{
		gw:       gw,
		provider: provider,
		logger:   logging.OrDefault(logger).With(logging.Service("extraction")),
	}
}

// Prompt is the text sent for a signal: title, blank line, excerpt.
func Prompt(sig *model.CanonicalSignal) string {
	if sig.BodyExcerpt == "" {
		return sig.Title
	}
	return sig.Title + "\n\n" + sig.BodyExcerpt
}

// Extract classifies sig. It always returns a result.
func (a *Adapter) Extract(ctx context.Context, sig *model.CanonicalSignal, keywords []string) *model.ExtractionResult {
	log := a.logger.WithContext(ctx).With(logging.SignalID(sig.ID), logging.WatchID(sig.WatchID))

	if a.provider == "" || a.gw == nil {
		metrics.Extractions.WithLabelValues("failed").Inc()
		return degraded(fmt.Errorf("%w: no extraction provider configured", model.ErrExtractionFailed))
	}

	res, err := a.gw.Complete(ctx, a.provider, Prompt(sig), map[string]string{
		providers.OptionKeywords: strings.Join(keywords, ","),
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrExtractionFailed, err)
		log.Warn("extraction provider failed", logging.Provider(a.provider), logging.Error(err))
		metrics.Extractions.WithLabelValues("failed").Inc()
		return degraded(err)
	}

	out, err := Parse(res.Data)
	if err != nil {
		log.Warn("extraction output malformed", logging.Provider(a.provider), logging.Error(err))
		out = unclassified(err.Error())
	}
	if res.Degraded {
		out.Degraded = true
	}

	switch {
	case out.EventType == model.EventUnclassified:
		metrics.Extractions.WithLabelValues("unclassified").Inc()
	case out.Repaired:
		metrics.Extractions.WithLabelValues("repaired").Inc()
	default:
		metrics.Extractions.WithLabelValues("ok").Inc()
	}
	return out
}

// Parse decodes provider output strictly, falling back to repair. The error
// wraps model.ErrMalformedExtraction when nothing could be recovered.
func Parse(data []byte) (*model.ExtractionResult, error) {
	w, err := decodeStrict(data)
	repaired := false
	if err != nil {
		w, err = repair(data)
		if err != nil {
			if !errors.Is(err, model.ErrMalformedExtraction) {
				err = fmt.Errorf("%w: %w", model.ErrMalformedExtraction, err)
			}
			return nil, err
		}
		repaired = true
	}
	return build(w, repaired), nil
}

func build(w *wireResult, repaired bool) *model.ExtractionResult {
	out := &model.ExtractionResult{
		ImpactAxes: make(map[model.Axis]model.AxisImpact),
		Repaired:   repaired,
	}

	if t, ok := ResolveEventType(w.EventType); ok {
		out.EventType = t
	} else {
		out.EventType = model.EventUnclassified
		out.NeedsReview = true
		out.ReviewReason = fmt.Sprintf("unrecognized event type %q", w.EventType)
	}
	if out.EventType == model.EventUnclassified && !out.NeedsReview {
		out.NeedsReview = true
		out.ReviewReason = "provider could not classify the event"
	}

	for name, ax := range w.ImpactAxes {
		axis, ok := model.ParseAxis(name)
		if !ok {
			continue
		}
		level, ok := model.ParseAxisLevel(ax.Level)
		if !ok {
			continue
		}
		out.ImpactAxes[axis] = model.AxisImpact{Level: level, Rationale: strings.TrimSpace(ax.Rationale)}
	}

	for _, e := range w.AffectedEntities {
		if e = strings.TrimSpace(e); e != "" {
			out.AffectedEntities = append(out.AffectedEntities, e)
		}
	}
	for _, act := range w.RecommendedActions {
		owner, title := strings.TrimSpace(act.Owner), strings.TrimSpace(act.Title)
		if owner == "" || title == "" {
			continue
		}
		out.RecommendedActions = append(out.RecommendedActions, model.ActionDraft{
			Owner:     owner,
			Title:     title,
			Priority:  strings.ToUpper(strings.TrimSpace(act.Priority)),
			DueInDays: max(0, act.DueInDays),
		})
	}

	if c := w.confidence(); c != nil {
		out.ExtractionConfidence = clamp01(*c)
	}
	if repaired {
		out.ExtractionConfidence *= RepairDiscount
	}
	out.Details = detailsFor(out.EventType, w.Details)
	return out
}

func unclassified(reason string) *model.ExtractionResult {
	return &model.ExtractionResult{
		EventType:    model.EventUnclassified,
		ImpactAxes:   map[model.Axis]model.AxisImpact{},
		NeedsReview:  true,
		ReviewReason: reason,
	}
}

func degraded(err error) *model.ExtractionResult {
	out := unclassified(err.Error())
	out.Degraded = true
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}
