// Package normalizer turns provider payloads into validated raw signals.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// Envelope is one provider response waiting to be normalized.
type Envelope struct {
	Provider  string
	WatchID   string
	Payload   []byte
	FetchedAt time.Time
}

// Candidate is an item decoded from a payload before validation.
type Candidate struct {
	Title       string
	URL         string
	Excerpt     string
	PublishedAt *time.Time
	SourceName  string
	SourceURL   string
	Breaking    bool
}

// Normalizer decodes the payload of the providers it supports.
type Normalizer interface {
	Supports(provider string) bool
	Decode(ctx context.Context, payload []byte) ([]Candidate, error)
}

// Registry holds ordered normalizers; the first that supports a provider wins.
type Registry struct {
	items []Normalizer
}

func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// DefaultRegistry knows the feed, NewsAPI and web search payloads.
func DefaultRegistry() *Registry {
	return NewRegistry(FeedNormalizer{}, NewsAPINormalizer{}, SearchNormalizer{})
}

// Find returns the first normalizer that supports provider, or nil.
func (r *Registry) Find(provider string) Normalizer {
	if r == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(provider) {
			return n
		}
	}
	return nil
}

// Rejection is an item that failed validation. Err wraps model.ErrValidation.
type Rejection struct {
	Provider  string    `json:"provider"`
	WatchID   string    `json:"watch_id"`
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
	Err       error     `json:"-"`
}

// Options tunes validation.
type Options struct {
	StalenessHorizon time.Duration
}

// Processor validates and finishes candidates into raw signals.
type Processor struct {
	registry *Registry
	opts     Options
	logger   *logging.Logger
}

func NewProcessor(registry *Registry, opts Options, logger *logging.Logger) *Processor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.StalenessHorizon <= 0 {
		opts.StalenessHorizon = 7 * 24 * time.Hour
	}
	return &Processor{registry: registry, opts: opts, logger: logging.OrDefault(logger).With(logging.Service("normalizer"))}
}

// Process decodes env and returns the accepted signals plus per-item
// rejections. An error means the payload as a whole could not be read.
func (p *Processor) Process(ctx context.Context, env *Envelope) ([]model.RawSignal, []Rejection, error) {
	n := p.registry.Find(env.Provider)
	if n == nil {
		return nil, nil, fmt.Errorf("no normalizer for provider %q: %w", env.Provider, model.ErrValidation)
	}
	candidates, err := n.Decode(ctx, env.Payload)
	if err != nil {
		metrics.SignalsRejected.WithLabelValues("payload").Inc()
		return nil, nil, fmt.Errorf("decode %s payload: %w: %w", env.Provider, model.ErrValidation, err)
	}

	signals := make([]model.RawSignal, 0, len(candidates))
	var rejected []Rejection
	for _, c := range candidates {
		sig, reason, err := p.finish(c, env)
		if err != nil {
			metrics.SignalsRejected.WithLabelValues(reason).Inc()
			p.logger.DebugContext(ctx, "signal rejected",
				logging.Provider(env.Provider), logging.WatchID(env.WatchID),
				slog.String("reason", reason), slog.String("url", c.URL))
			rejected = append(rejected, Rejection{
				Provider: env.Provider, WatchID: env.WatchID, Candidate: c, Reason: reason, Err: err,
			})
			continue
		}
		metrics.SignalsNormalized.WithLabelValues(env.Provider).Inc()
		signals = append(signals, sig)
	}
	return signals, rejected, nil
}

func (p *Processor) finish(c Candidate, env *Envelope) (model.RawSignal, string, error) {
	title := CollapseSpace(c.Title)
	link := strings.TrimSpace(c.URL)
	if title == "" && link == "" {
		return model.RawSignal{}, "empty", fmt.Errorf("item has neither title nor url: %w", model.ErrValidation)
	}

	published := env.FetchedAt
	if c.PublishedAt != nil && !c.PublishedAt.IsZero() {
		published = *c.PublishedAt
		if published.After(env.FetchedAt) {
			published = env.FetchedAt
		}
	}
	if env.FetchedAt.Sub(published) > p.opts.StalenessHorizon {
		return model.RawSignal{}, "stale", fmt.Errorf("item published %s is older than %s: %w",
			published.Format(time.RFC3339), p.opts.StalenessHorizon, model.ErrValidation)
	}

	if c.SourceName != "" {
		title = strings.TrimSuffix(title, " - "+c.SourceName)
	}
	excerpt := truncateRunes(StripHTML(c.Excerpt), maxExcerpt)
	if title == "" {
		title = truncateRunes(excerpt, 120)
	}
	if title == "" {
		title = link
	}

	domain := PublisherDomain(c.SourceURL, link)
	sig := model.RawSignal{
		SourceID:      SourceID(link, domain, title),
		PublisherID:   domain,
		PublisherName: c.SourceName,
		URL:           link,
		Title:         title,
		BodyExcerpt:   excerpt,
		PublishedAt:   published.UTC(),
		FetchedAt:     env.FetchedAt.UTC(),
		WatchID:       env.WatchID,
		IsBreaking:    c.Breaking || IsBreakingTitle(title),
	}
	sig.Fingerprint = Fingerprint(sig.Title, sig.PublisherID, sig.PublishedAt)
	return sig, "", nil
}
