package providers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// DeepResearchRequest is the deep-research contract.
type DeepResearchRequest struct {
	Topic        string `json:"topic"`
	SourceTarget int    `json:"sourceTarget"`
}

// DeepResearchResponse references the generated report.
type DeepResearchResponse struct {
	ContentRef    string `json:"contentRef"`
	SourceCount   int    `json:"sourceCount"`
	GeneratedAtMs int64  `json:"generatedAtMs"`
}

type DeepResearchProvider struct {
	http         httpDoer
	url          string
	apiKey       string
	sourceTarget int
}

func NewDeepResearchProvider(url, apiKey string, sourceTarget int, userAgent string, client *http.Client) *DeepResearchProvider {
	return &DeepResearchProvider{
		http:         newHTTPDoer("deep-research", client, userAgent),
		url:          url,
		apiKey:       apiKey,
		sourceTarget: sourceTarget,
	}
}

func (p *DeepResearchProvider) Name() string       { return "deep-research" }
func (p *DeepResearchProvider) Kind() gateway.Kind { return gateway.KindDeepResearch }

func (p *DeepResearchProvider) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	target := p.sourceTarget
	if v, err := strconv.Atoi(req.Options[OptionSourceTarget]); err == nil && v > 0 {
		target = v
	}
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.http.postJSON(ctx, p.url, header, DeepResearchRequest{Topic: req.Query, SourceTarget: target})
}
