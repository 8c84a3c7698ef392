package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// Request option keys understood by the extraction and deep-research adapters.
const (
	OptionKeywords     = "keywords"
	OptionSourceTarget = "source_target"
)

// ExtractionRequest is the HTTP extraction contract.
type ExtractionRequest struct {
	Text          string   `json:"text"`
	WatchKeywords []string `json:"watchKeywords"`
}

// HTTPExtractor posts signals to an extraction service speaking JSON.
type HTTPExtractor struct {
	http   httpDoer
	url    string
	apiKey string
}

func NewHTTPExtractor(url, apiKey, userAgent string, client *http.Client) *HTTPExtractor {
	return &HTTPExtractor{http: newHTTPDoer("http-extractor", client, userAgent), url: url, apiKey: apiKey}
}

func (p *HTTPExtractor) Name() string       { return "http-extractor" }
func (p *HTTPExtractor) Kind() gateway.Kind { return gateway.KindExtraction }

func (p *HTTPExtractor) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.http.postJSON(ctx, p.url, header, ExtractionRequest{
		Text:          req.Query,
		WatchKeywords: splitKeywords(req.Options[OptionKeywords]),
	})
}

const extractionInstruction = `You classify business news about a monitored company or product.
Return one JSON object describing the event in the text.

eventType must be one of: Launch, PricingChange, Partnership, Regulatory, SecurityIncident,
M&A, Funding, Hiring, Layoff, FeatureUpdate, Outage, Rebranding, MarketExpansion, Unclassified.
impactAxes rates market, product, pricing, regulatory and brand impact as low, medium or high,
each with a one sentence rationale. Leave an axis out when the text says nothing about it.
recommendedActions are concrete follow-ups with an owning team, a priority (P1-P3) and a due
date in days. extractionConfidence is your confidence in the classification between 0 and 1.
details holds the fields matching eventType only. Use Unclassified rather than guessing.`

// GeminiExtractor classifies signals with a Gemini model constrained to a
// JSON response schema.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates the client once; baseURL overrides the API endpoint when set.
func NewGeminiExtractor(ctx context.Context, apiKey, model, baseURL string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

func (p *GeminiExtractor) Name() string       { return "gemini" }
func (p *GeminiExtractor) Kind() gateway.Kind { return gateway.KindExtraction }

func (p *GeminiExtractor) Call(ctx context.Context, req gateway.Request) ([]byte, error) {
	prompt := req.Query
	if kw := req.Options[OptionKeywords]; kw != "" {
		prompt = fmt.Sprintf("Watch keywords: %s\n\n---\n%s", kw, req.Query)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: extractionInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    extractionSchema(),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, geminiError(err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}
	return []byte(text), nil
}

// geminiError surfaces the API status so the gateway can classify it.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &gateway.ProviderError{Provider: "gemini", Status: apiErr.Code, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}

func extractionSchema() *genai.Schema {
	level := &genai.Schema{Type: genai.TypeString, Enum: []string{"low", "medium", "high"}}
	axis := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"level":     level,
			"rationale": {Type: genai.TypeString},
		},
		Required: []string{"level"},
	}
	str := &genai.Schema{Type: genai.TypeString}
	strs := &genai.Schema{Type: genai.TypeArray, Items: str}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"eventType": {Type: genai.TypeString, Description: "Event taxonomy value."},
			"impactAxes": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"market": axis, "product": axis, "pricing": axis, "regulatory": axis, "brand": axis,
				},
			},
			"affectedEntities": strs,
			"recommendedActions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"owner":     str,
						"title":     str,
						"priority":  str,
						"dueInDays": {Type: genai.TypeInteger},
					},
					Required: []string{"owner", "title"},
				},
			},
			"extractionConfidence": {Type: genai.TypeNumber},
			"details": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"product": str, "oldPrice": str, "newPrice": str, "currency": str,
					"changePct": {Type: genai.TypeNumber},
					"partners": strs, "regulator": str, "jurisdiction": str,
					"severity": str, "recordsAffected": {Type: genai.TypeInteger},
					"acquirer": str, "target": str, "dealValue": str,
					"amount": str, "round": str, "investors": strs,
					"headcount": {Type: genai.TypeInteger},
					"service": str, "oldName": str, "newName": str, "regions": strs,
				},
			},
		},
		Required: []string{"eventType", "impactAxes", "extractionConfidence"},
	}
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
