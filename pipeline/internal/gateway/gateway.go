// Package gateway fronts every upstream provider with caching, circuit
// breaking, retries and backpressure, and reports degraded results explicitly.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// ClassSettings holds the per-class cache and backpressure settings.
type ClassSettings struct {
	TTL           time.Duration
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	MaxInFlight   int64
}

// Settings configures a Gateway.
type Settings struct {
	Breaker  BreakerSettings
	Retry    Retrier
	MaxStale time.Duration
	Classes  map[Kind]ClassSettings
}

// SettingsFromConfig maps the gateway configuration section onto Settings.
func SettingsFromConfig(c config.GatewayConfig) Settings {
	class := func(cc config.ClassConfig) ClassSettings {
		return ClassSettings{
			TTL:           cc.TTL,
			Timeout:       cc.Timeout,
			RatePerSecond: cc.RatePerSecond,
			Burst:         cc.Burst,
			MaxInFlight:   cc.MaxInFlight,
		}
	}
	return Settings{
		Breaker: BreakerSettings{
			FailureThreshold: c.Breaker.FailureThreshold,
			FailureWindow:    c.Breaker.FailureWindow,
			Cooldown:         c.Breaker.Cooldown,
			HalfOpenProbes:   c.Breaker.HalfOpenProbes,
		},
		Retry: Retrier{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
		},
		MaxStale: c.Cache.MaxStale,
		Classes: map[Kind]ClassSettings{
			KindNews:         class(c.Classes.News),
			KindSearch:       class(c.Classes.Search),
			KindExtraction:   class(c.Classes.Extraction),
			KindDeepResearch: class(c.Classes.DeepResearch),
		},
	}
}

// Result is a provider response with its provenance.
type Result struct {
	Provider  string
	Data      []byte
	Degraded  bool
	FromCache bool
	StoredAt  time.Time
}

type providerState struct {
	provider Provider
	class    ClassSettings
	breaker  *Breaker
	limiter  *limiter
}

// Gateway routes calls to registered providers.
type Gateway struct {
	settings Settings
	cache    Cache
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.RWMutex
	providers map[string]*providerState
	flight    singleflight.Group
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClock injects the time source used for cache freshness and the breaker.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSleep replaces the retry wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.settings.Retry.Sleep = sleep }
}

// New creates a Gateway. cache may be nil, in which case an unbounded
// in-memory cache is used.
func New(settings Settings, cache Cache, logger *logging.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		settings:  settings,
		cache:     cache,
		logger:    logging.OrDefault(logger).With(logging.Service("gateway")),
		now:       time.Now,
		providers: make(map[string]*providerState),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewMemoryCache(0, g.now)
	}
	return g
}

// Register adds a provider. Registering the same name twice replaces it.
func (g *Gateway) Register(p Provider) {
	name := p.Name()
	class := g.settings.Classes[p.Kind()]
	state := &providerState{
		provider: p,
		class:    class,
		limiter:  newLimiter(class),
	}
	state.breaker = NewBreaker(g.settings.Breaker, g.now, func(from, to State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		attrs := []any{logging.Provider(name), slog.String("from", from.String()), slog.String("to", to.String())}
		if to == StateOpen {
			g.logger.Warn("circuit breaker opened", attrs...)
		} else {
			g.logger.Info("circuit breaker transition", attrs...)
		}
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))

	g.mu.Lock()
	g.providers[name] = state
	g.mu.Unlock()
}

// Providers lists registered provider names of the given kind, sorted.
func (g *Gateway) Providers(kind Kind) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	for name, st := range g.providers {
		if st.provider.Kind() == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// BreakerState reports the breaker state of a provider.
func (g *Gateway) BreakerState(provider string) (State, bool) {
	st, ok := g.lookup(provider)
	if !ok {
		return StateClosed, false
	}
	return st.breaker.State(), true
}

// Complete sends a prompt to an extraction or deep-research provider.
func (g *Gateway) Complete(ctx context.Context, provider, prompt string, options map[string]string) (Result, error) {
	return g.Fetch(ctx, provider, Request{Query: prompt, Options: options})
}

// Fetch returns a fresh cached value, or calls the provider. When the call
// fails and a stale value exists it is returned with Degraded set. Without a
// fallback the error wraps model.ErrRateLimited or model.ErrUnavailable.
func (g *Gateway) Fetch(ctx context.Context, provider string, req Request) (Result, error) {
	st, ok := g.lookup(provider)
	if !ok {
		return Result{}, fmt.Errorf("gateway: unknown provider %q: %w", provider, model.ErrUnavailable)
	}

	key := CacheKey(provider, st.provider.Kind(), req)
	cached, found := g.cacheGet(ctx, key)
	if found && g.now().Sub(cached.StoredAt) < st.class.TTL {
		metrics.CacheLookups.WithLabelValues(cached.Tier, "fresh").Inc()
		return Result{Provider: provider, Data: cached.Data, FromCache: true, StoredAt: cached.StoredAt}, nil
	}
	if found {
		metrics.CacheLookups.WithLabelValues(cached.Tier, "stale").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("all", "miss").Inc()
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		return g.call(ctx, st, req)
	})
	if err == nil {
		data := v.([]byte)
		now := g.now()
		entry := Entry{Data: data, StoredAt: now, ExpiresAt: now.Add(st.class.TTL + g.settings.MaxStale)}
		if serr := g.cache.Set(ctx, key, entry); serr != nil {
			g.logger.WarnContext(ctx, "cache write failed", logging.Provider(provider), logging.Error(serr))
		}
		return Result{Provider: provider, Data: data, StoredAt: now}, nil
	}

	if found {
		metrics.DegradedResponses.WithLabelValues(provider).Inc()
		g.logger.WarnContext(ctx, "serving stale response",
			logging.Provider(provider),
			slog.Duration("age", g.now().Sub(cached.StoredAt)),
			logging.Error(err))
		return Result{Provider: provider, Data: cached.Data, Degraded: true, FromCache: true, StoredAt: cached.StoredAt}, nil
	}

	if RateLimited(err) {
		return Result{}, fmt.Errorf("%s: %w: %w", provider, model.ErrRateLimited, err)
	}
	return Result{}, fmt.Errorf("%s: %w: %w", provider, model.ErrUnavailable, err)
}

func (g *Gateway) call(ctx context.Context, st *providerState, req Request) ([]byte, error) {
	name := st.provider.Name()

	probe, err := st.breaker.Allow()
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(name, "breaker_open").Inc()
		return nil, err
	}

	if st.class.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.class.Timeout)
		defer cancel()
	}

	release, err := st.limiter.acquire(ctx)
	if err != nil {
		st.breaker.Record(probe, false, false)
		return nil, err
	}
	defer release()

	retrier := g.settings.Retry
	retrier.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.GatewayRetries.WithLabelValues(name).Inc()
		g.logger.DebugContext(ctx, "retrying provider call",
			logging.Provider(name), slog.Int("attempt", attempt),
			slog.Duration("wait", wait), logging.Error(err))
	}
	attempts := 0
	if probe {
		attempts = 1
	}

	start := g.now()
	var data []byte
	err = retrier.Do(ctx, attempts, func(ctx context.Context) error {
		var cerr error
		data, cerr = st.provider.Call(ctx, req)
		return cerr
	})
	metrics.GatewayDuration.WithLabelValues(name).Observe(g.now().Sub(start).Seconds())

	failed := countsAsFailure(err)
	st.breaker.Record(probe, err == nil || failed, failed)

	switch {
	case err == nil:
		metrics.GatewayRequests.WithLabelValues(name, "ok").Inc()
	case RateLimited(err):
		metrics.GatewayRequests.WithLabelValues(name, "rate_limited").Inc()
	default:
		metrics.GatewayRequests.WithLabelValues(name, "error").Inc()
	}
	return data, err
}

func (g *Gateway) cacheGet(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "cache read failed", logging.Error(err))
		return Entry{}, false
	}
	return e, ok
}

func (g *Gateway) lookup(name string) (*providerState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.providers[name]
	return st, ok
}
