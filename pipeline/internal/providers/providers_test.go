package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>"Acme" - Google News</title>
  <item>
    <title>Acme launches Feature Y - Reuters</title>
    <link>https://www.reuters.com/tech/acme-feature-y</link>
    <guid>r-1</guid>
    <pubDate>Mon, 04 May 2026 08:30:00 GMT</pubDate>
    <description>&lt;p&gt;Acme on Monday &lt;b&gt;launched&lt;/b&gt; Feature Y.&lt;/p&gt;</description>
    <source url="https://www.reuters.com">Reuters</source>
  </item>
  <item>
    <title>Acme hires new CFO</title>
    <link>https://techcrunch.com/acme-cfo</link>
  </item>
</channel>
</rss>`

func TestRSSNewsProvider_Call(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, sampleRSS)
	}))
	defer srv.Close()

	p := NewRSSNewsProvider(srv.URL+"/rss/search?q=%s", "impactwatch-test", srv.Client())
	data, err := p.Call(context.Background(), gateway.Request{Query: "Acme Feature"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Feature", gotQuery)
	assert.Equal(t, "impactwatch-test", gotUA)

	var feed Feed
	require.NoError(t, json.Unmarshal(data, &feed))
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "Acme launches Feature Y - Reuters", feed.Items[0].Title)
	assert.Equal(t, "https://www.reuters.com/tech/acme-feature-y", feed.Items[0].Link)
	require.NotNil(t, feed.Items[0].Published)
	assert.Equal(t, time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC), feed.Items[0].Published.UTC())
	assert.Contains(t, feed.Items[0].Description, "<b>launched</b>")
	assert.Equal(t, "Reuters", feed.Items[0].SourceName)
	assert.Equal(t, "https://www.reuters.com", feed.Items[0].SourceURL)
	assert.Empty(t, feed.Items[1].SourceName)
	assert.Nil(t, feed.Items[1].Published)
}

func TestRSSNewsProvider_InvalidFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "definitely not xml")
	}))
	defer srv.Close()

	_, err := NewRSSNewsProvider(srv.URL+"?q=%s", "", srv.Client()).Call(context.Background(), gateway.Request{Query: "x"})
	assert.Error(t, err)
}

func TestHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		retryable  bool
		limited    bool
	}{
		{"rate limited", http.StatusTooManyRequests, "3", true, true},
		{"unavailable", http.StatusServiceUnavailable, "", true, false},
		{"unauthorized", http.StatusUnauthorized, "", false, false},
		{"bad request", http.StatusBadRequest, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"status":"error","message":"nope"}`)
			}))
			defer srv.Close()

			p := NewNewsAPIProvider(srv.URL, "key", "en", 20, "", srv.Client())
			_, err := p.Call(context.Background(), gateway.Request{Query: "acme"})
			require.Error(t, err)

			var pe *gateway.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, "newsapi", pe.Provider)
			assert.Equal(t, tt.retryable, gateway.Retryable(err))
			assert.Equal(t, tt.limited, gateway.RateLimited(err))
			if tt.retryAfter != "" {
				assert.Equal(t, 3*time.Second, pe.RetryAfter)
			}
		})
	}
}

func TestNewsAPIProvider_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "acme", r.URL.Query().Get("q"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "25", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "publishedAt", r.URL.Query().Get("sortBy"))
		_, _ = io.WriteString(w, `{"status":"ok","totalResults":1,"articles":[{"source":{"id":null,"name":"The Verge"},"title":"Acme ships Y","url":"https://www.theverge.com/a","publishedAt":"2026-05-04T08:00:00Z"}]}`)
	}))
	defer srv.Close()

	data, err := NewNewsAPIProvider(srv.URL, "secret", "en", 25, "", srv.Client()).
		Call(context.Background(), gateway.Request{Query: "acme"})
	require.NoError(t, err)

	var resp NewsAPIResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Len(t, resp.Articles, 1)
	assert.Equal(t, "The Verge", resp.Articles[0].Source.Name)
}

func TestSearchProvider_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_, _ = io.WriteString(w, `{"web":{"results":[{"title":"Acme pricing","url":"https://example.com/p","description":"new tiers","meta_url":{"hostname":"example.com"}}]}}`)
	}))
	defer srv.Close()

	data, err := NewSearchProvider(srv.URL, "tok", 5, "", srv.Client()).Call(context.Background(), gateway.Request{Query: "acme pricing"})
	require.NoError(t, err)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Len(t, resp.Web.Results, 1)
	assert.Equal(t, "example.com", resp.Web.Results[0].MetaURL.Hostname)
}

func TestHTTPExtractor_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req ExtractionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme launches Y", req.Text)
		assert.Equal(t, []string{"Acme", "Feature Y"}, req.WatchKeywords)
		_, _ = io.WriteString(w, `{"eventType":"Launch"}`)
	}))
	defer srv.Close()

	data, err := NewHTTPExtractor(srv.URL, "k", "", srv.Client()).Call(context.Background(), gateway.Request{
		Query:   "Acme launches Y",
		Options: map[string]string{OptionKeywords: "Acme, Feature Y,"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"Launch"}`, string(data))
}

func TestDeepResearchProvider_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req DeepResearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme Feature Y", req.Topic)
		assert.Equal(t, 40, req.SourceTarget)
		_, _ = fmt.Fprintf(w, `{"contentRef":"s3://reports/1","sourceCount":%d,"generatedAtMs":1777881600000}`, req.SourceTarget)
	}))
	defer srv.Close()

	p := NewDeepResearchProvider(srv.URL, "", 20, "", srv.Client())
	data, err := p.Call(context.Background(), gateway.Request{Query: "Acme Feature Y", Options: map[string]string{OptionSourceTarget: "40"}})
	require.NoError(t, err)

	var resp DeepResearchResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "s3://reports/1", resp.ContentRef)
	assert.Equal(t, 40, resp.SourceCount)
}

func TestGeminiError(t *testing.T) {
	err := geminiError(fmt.Errorf("generate: %w", genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}))
	assert.True(t, gateway.RateLimited(err))

	err = geminiError(errors.New("dial tcp: refused"))
	var pe *gateway.ProviderError
	assert.False(t, errors.As(err, &pe))
}

func TestExtractionSchema(t *testing.T) {
	s := extractionSchema()
	assert.ElementsMatch(t, []string{"eventType", "impactAxes", "extractionConfidence"}, s.Required)
	assert.Len(t, s.Properties["impactAxes"].Properties, 5)
}

func TestBuild(t *testing.T) {
	cfg := config.ProvidersConfig{
		News:         config.NewsProviderConfig{Type: "newsapi", URL: "http://news"},
		Search:       config.SearchProviderConfig{Enabled: true, URL: "http://search"},
		Extraction:   config.ExtractionConfig{Type: "http", URL: "http://extract"},
		DeepResearch: config.DeepResearchConfig{URL: "http://research"},
	}
	ps, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	var names []string
	for _, p := range ps {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"newsapi", "search", "http-extractor", "deep-research"}, names)

	cfg.News.Type = "carrier-pigeon"
	_, err = Build(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.News.Type = "rss"
	cfg.Extraction = config.ExtractionConfig{Type: "gemini"}
	_, err = Build(context.Background(), cfg, nil)
	assert.Error(t, err, "gemini without an api key")
}
