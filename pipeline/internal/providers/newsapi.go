package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// NewsAPIResponse is the NewsAPI "everything" response shape.
type NewsAPIResponse struct {
	Status       string           `json:"status"`
	TotalResults int              `json:"totalResults"`
	Articles     []NewsAPIArticle `json:"articles"`
}

type NewsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string     `json:"author"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"publishedAt"`
	Content     string     `json:"content"`
	Breaking    bool       `json:"breaking,omitempty"`
}

// NewsAPIProvider queries a NewsAPI-compatible search endpoint.
type NewsAPIProvider struct {
	http     httpDoer
	baseURL  string
	apiKey   string
	language string
	pageSize int
}

func NewNewsAPIProvider(baseURL, apiKey, language string, pageSize int, userAgent string, client *http.Client) *NewsAPIProvider {
	return &NewsAPIProvider{
		http:     newHTTPDoer("newsapi", client, userAgent),
		baseURL:  baseURL,
		apiKey:   apiKey,
		language: language,
		pageSize: pageSize,
	}
}

func (p *NewsAPIProvider) Name() string       { return "newsapi" }
func (p *NewsAPIProvider) Kind() gateway.Kind { return gateway.KindNews }

func (p *NewsAPIProvider) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("sortBy", "publishedAt")
	if p.language != "" {
		q.Set("language", p.language)
	}
	if p.pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.pageSize))
	}
	if from := req.Options["from"]; from != "" {
		q.Set("from", from)
	}
	return p.http.get(ctx, p.baseURL+"?"+q.Encode(), http.Header{"X-Api-Key": {p.apiKey}})
}
