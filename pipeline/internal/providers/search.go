package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// SearchResponse is the web search response shape (web.results[]).
type SearchResponse struct {
	Web struct {
		Results []SearchResult `json:"results"`
	} `json:"web"`
}

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age,omitempty"`
	Profile     struct {
		Name string `json:"name"`
	} `json:"profile"`
	MetaURL struct {
		Hostname string `json:"hostname"`
	} `json:"meta_url"`
}

// SearchProvider queries the enrichment web search endpoint.
type SearchProvider struct {
	http    httpDoer
	baseURL string
	apiKey  string
	count   int
}

func NewSearchProvider(baseURL, apiKey string, count int, userAgent string, client *http.Client) *SearchProvider {
	return &SearchProvider{
		http:    newHTTPDoer("search", client, userAgent),
		baseURL: baseURL,
		apiKey:  apiKey,
		count:   count,
	}
}

func (p *SearchProvider) Name() string       { return "search" }
func (p *SearchProvider) Kind() gateway.Kind { return gateway.KindSearch }

func (p *SearchProvider) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	if p.count > 0 {
		q.Set("count", strconv.Itoa(p.count))
	}
	header := http.Header{"Accept": {"application/json"}}
	if p.apiKey != "" {
		header.Set("X-Subscription-Token", p.apiKey)
	}
	return p.http.get(ctx, p.baseURL+"?"+q.Encode(), header)
}
