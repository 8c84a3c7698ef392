package normalizer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
)

// FeedNormalizer reads the neutral feed payload emitted by the RSS provider.
type FeedNormalizer struct{}

func (FeedNormalizer) Supports(provider string) bool { return provider == "rss" }

func (FeedNormalizer) Decode(_ context.Context, payload []byte) ([]Candidate, error) {
	var feed providers.Feed
	if err := json.Unmarshal(payload, &feed); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(feed.Items))
	for _, it := range feed.Items {
		link := it.Link
		if link == "" {
			link = it.GUID
		}
		out = append(out, Candidate{
			Title:       it.Title,
			URL:         link,
			Excerpt:     it.Description,
			PublishedAt: it.Published,
			SourceName:  it.SourceName,
			SourceURL:   it.SourceURL,
		})
	}
	return out, nil
}

// NewsAPINormalizer reads NewsAPI article lists.
type NewsAPINormalizer struct{}

func (NewsAPINormalizer) Supports(provider string) bool { return provider == "newsapi" }

func (NewsAPINormalizer) Decode(_ context.Context, payload []byte) ([]Candidate, error) {
	var resp providers.NewsAPIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		excerpt := a.Description
		if excerpt == "" {
			excerpt = a.Content
		}
		out = append(out, Candidate{
			Title:       a.Title,
			URL:         a.URL,
			Excerpt:     excerpt,
			PublishedAt: a.PublishedAt,
			SourceName:  a.Source.Name,
			Breaking:    a.Breaking,
		})
	}
	return out, nil
}

// SearchNormalizer reads web search results.
type SearchNormalizer struct{}

func (SearchNormalizer) Supports(provider string) bool { return provider == "search" }

func (SearchNormalizer) Decode(_ context.Context, payload []byte) ([]Candidate, error) {
	var resp providers.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		c := Candidate{
			Title:      r.Title,
			URL:        r.URL,
			Excerpt:    r.Description,
			SourceName: r.Profile.Name,
		}
		if r.MetaURL.Hostname != "" {
			c.SourceURL = "https://" + r.MetaURL.Hostname
		}
		if t, err := time.Parse(time.RFC3339, r.PageAge); err == nil {
			c.PublishedAt = &t
		} else if t, err := time.Parse("2006-01-02T15:04:05", r.PageAge); err == nil {
			c.PublishedAt = &t
		}
		out = append(out, c)
	}
	return out, nil
}
