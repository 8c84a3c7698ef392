package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
)

var fetchedAt = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func feedPayload(t *testing.T, items ...providers.FeedItem) []byte {
	t.Helper()
	data, err := json.Marshal(providers.Feed{Title: "test", Items: items})
	require.NoError(t, err)
	return data
}

func newTestProcessor() *Processor {
	return NewProcessor(nil, Options{StalenessHorizon: 7 * 24 * time.Hour}, logging.Discard())
}

func TestProcess_Feed(t *testing.T) {
	payload := feedPayload(t,
		providers.FeedItem{
			Title:       "Acme launches Feature Y - Reuters",
			Link:        "https://news.google.com/rss/articles/abc",
			Description: `<p>Acme on Monday <b>launched</b> Feature&nbsp;Y.</p><script>track()</script>`,
			Published:   ptr(fetchedAt.Add(-30 * time.Minute)),
			SourceName:  "Reuters",
			SourceURL:   "https://www.reuters.com",
		},
		providers.FeedItem{
			Title: "BREAKING: Acme outage hits EU customers",
			Link:  "https://www.theverge.com/acme-outage",
		},
	)

	signals, rejected, err := newTestProcessor().Process(context.Background(), &Envelope{
		Provider: "rss", WatchID: "acme", Payload: payload, FetchedAt: fetchedAt,
	})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, signals, 2)

	first := signals[0]
	assert.Equal(t, "Acme launches Feature Y", first.Title)
	assert.Equal(t, "reuters.com", first.PublisherID)
	assert.Equal(t, "Reuters", first.PublisherName)
	assert.Equal(t, "Acme on Monday launched Feature Y.", first.BodyExcerpt)
	assert.Equal(t, "acme", first.WatchID)
	assert.False(t, first.IsBreaking)
	assert.Equal(t, "acme launches feature y|reuters.com|2026-05-04", first.Fingerprint)
	assert.Len(t, first.SourceID, 16)

	second := signals[1]
	assert.True(t, second.IsBreaking)
	assert.Equal(t, "theverge.com", second.PublisherID)
	assert.Equal(t, fetchedAt, second.PublishedAt, "missing publish time falls back to fetch time")
	assert.Empty(t, second.BodyExcerpt)
}

func TestProcess_Rejections(t *testing.T) {
	payload := feedPayload(t,
		providers.FeedItem{Description: "no title, no link"},
		providers.FeedItem{Title: "Old news", Link: "https://example.com/old", Published: ptr(fetchedAt.Add(-8 * 24 * time.Hour))},
		providers.FeedItem{Title: "Fresh", Link: "https://example.com/fresh", Published: ptr(fetchedAt.Add(-time.Hour))},
	)

	signals, rejected, err := newTestProcessor().Process(context.Background(), &Envelope{
		Provider: "rss", WatchID: "acme", Payload: payload, FetchedAt: fetchedAt,
	})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Len(t, rejected, 2)

	assert.Equal(t, "empty", rejected[0].Reason)
	assert.Equal(t, "stale", rejected[1].Reason)
	for _, r := range rejected {
		assert.True(t, errors.Is(r.Err, model.ErrValidation))
		assert.Equal(t, "acme", r.WatchID)
	}
}

func TestProcess_FuturePublishTimeClamped(t *testing.T) {
	payload := feedPayload(t, providers.FeedItem{Title: "Acme", Link: "https://example.com/a", Published: ptr(fetchedAt.Add(3 * time.Hour))})
	signals, _, err := newTestProcessor().Process(context.Background(), &Envelope{Provider: "rss", Payload: payload, FetchedAt: fetchedAt})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, fetchedAt, signals[0].PublishedAt)
}

func TestProcess_TitleFallbacks(t *testing.T) {
	payload := feedPayload(t,
		providers.FeedItem{Link: "https://example.com/a", Description: "Acme cuts prices on its starter plan."},
		providers.FeedItem{Link: "https://example.com/b"},
	)
	signals, _, err := newTestProcessor().Process(context.Background(), &Envelope{Provider: "rss", Payload: payload, FetchedAt: fetchedAt})
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "Acme cuts prices on its starter plan.", signals[0].Title)
	assert.Equal(t, "https://example.com/b", signals[1].Title)
}

func TestProcess_NewsAPIAndSearch(t *testing.T) {
	news := `{"status":"ok","articles":[{"source":{"name":"TechCrunch"},"title":"Acme raises $50M","url":"https://techcrunch.com/acme","description":"Series B","publishedAt":"2026-05-04T09:00:00Z","breaking":true}]}`
	signals, _, err := newTestProcessor().Process(context.Background(), &Envelope{Provider: "newsapi", Payload: []byte(news), FetchedAt: fetchedAt})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "techcrunch.com", signals[0].PublisherID)
	assert.True(t, signals[0].IsBreaking)
	assert.Equal(t, "Series B", signals[0].BodyExcerpt)

	search := `{"web":{"results":[{"title":"Acme pricing page","url":"https://acme.com/pricing","description":"<strong>New</strong> tiers","page_age":"2026-05-03T12:00:00","meta_url":{"hostname":"acme.com"}}]}}`
	signals, _, err = newTestProcessor().Process(context.Background(), &Envelope{Provider: "search", Payload: []byte(search), FetchedAt: fetchedAt})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "acme.com", signals[0].PublisherID)
	assert.Equal(t, "New tiers", signals[0].BodyExcerpt)
	assert.Equal(t, time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC), signals[0].PublishedAt)
}

func TestProcess_PayloadErrors(t *testing.T) {
	p := newTestProcessor()

	_, _, err := p.Process(context.Background(), &Envelope{Provider: "carrier-pigeon", Payload: []byte("{}")})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = p.Process(context.Background(), &Envelope{Provider: "rss", Payload: []byte("<rss>")})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRegistry_FirstMatchWins(t *testing.T) {
	r := NewRegistry(SearchNormalizer{}, FeedNormalizer{})
	assert.IsType(t, FeedNormalizer{}, r.Find("rss"))
	assert.IsType(t, SearchNormalizer{}, r.Find("search"))
	assert.Nil(t, r.Find("newsapi"))

	var nilRegistry *Registry
	assert.Nil(t, nilRegistry.Find("rss"))
}
