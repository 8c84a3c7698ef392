package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// Feed is the neutral payload the RSS adapter emits.
type Feed struct {
	Title   string     `json:"title"`
	FeedURL string     `json:"feed_url"`
	Items   []FeedItem `json:"items"`
}

// FeedItem is one entry of a Feed.
type FeedItem struct {
	GUID        string     `json:"guid,omitempty"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	Author      string     `json:"author,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
}

// RSSNewsProvider queries an RSS search endpoint such as Google News.
// URLTemplate must contain one %s for the escaped query.
type RSSNewsProvider struct {
	http        httpDoer
	urlTemplate string
	parser      *gofeed.Parser
}

func NewRSSNewsProvider(urlTemplate, userAgent string, client *http.Client) *RSSNewsProvider {
	return &RSSNewsProvider{
		http:        newHTTPDoer("rss", client, userAgent),
		urlTemplate: urlTemplate,
		parser:      newFeedParser(),
	}
}

func newFeedParser() *gofeed.Parser {
	p := gofeed.NewParser()
	p.RSSTranslator = &sourceTranslator{}
	return p
}

// sourceTranslator keeps the RSS <source> element, which aggregators such as
// Google News use to name the originating publisher.
type sourceTranslator struct {
	gofeed.DefaultRSSTranslator
}

func (t *sourceTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	out, err := t.DefaultRSSTranslator.Translate(feed)
	if err != nil {
		return nil, err
	}
	raw, ok := feed.(*rss.Feed)
	if !ok || len(raw.Items) != len(out.Items) {
		return out, nil
	}
	for i, item := range raw.Items {
		if item.Source == nil {
			continue
		}
		if out.Items[i].Custom == nil {
			out.Items[i].Custom = make(map[string]string, 2)
		}
		out.Items[i].Custom["source_name"] = item.Source.Title
		out.Items[i].Custom["source_url"] = item.Source.URL
	}
	return out, nil
}

func (p *RSSNewsProvider) Name() string       { return "rss" }
func (p *RSSNewsProvider) Kind() gateway.Kind { return gateway.KindNews }

func (p *RSSNewsProvider) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	feedURL := p.urlTemplate
	if strings.Contains(feedURL, "%s") {
		feedURL = fmt.Sprintf(feedURL, url.QueryEscape(req.Query))
	}

	raw, err := p.http.get(ctx, feedURL, http.Header{"Accept": {"application/rss+xml, application/atom+xml, application/xml;q=0.9"}})
	if err != nil {
		return nil, err
	}

	parsed, err := p.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("rss: parse feed: %w", err)
	}

	out := Feed{Title: parsed.Title, FeedURL: feedURL, Items: make([]FeedItem, 0, len(parsed.Items))}
	for _, entry := range parsed.Items {
		item := FeedItem{
			GUID:        entry.GUID,
			Title:       entry.Title,
			Link:        entry.Link,
			Description: entry.Description,
			Categories:  entry.Categories,
		}
		if item.Description == "" {
			item.Description = entry.Content
		}
		if entry.Custom != nil {
			item.SourceName = entry.Custom["source_name"]
			item.SourceURL = entry.Custom["source_url"]
		}
		if entry.Author != nil {
			item.Author = entry.Author.Name
		}
		switch {
		case entry.PublishedParsed != nil:
			item.Published = entry.PublishedParsed
		case entry.UpdatedParsed != nil:
			item.Published = entry.UpdatedParsed
		}
		out.Items = append(out.Items, item)
	}
	return json.Marshal(out)
}
