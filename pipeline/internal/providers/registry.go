package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

// Build constructs every provider enabled by cfg.
func Build(ctx context.Context, cfg config.ProvidersConfig, client *http.Client) ([]gateway.Provider, error) {
	var out []gateway.Provider

	switch cfg.News.Type {
	case "rss":
		out = append(out, NewRSSNewsProvider(cfg.News.URL, cfg.UserAgent, client))
	case "newsapi":
		out = append(out, NewNewsAPIProvider(cfg.News.URL, cfg.News.APIKey, cfg.News.Language, cfg.News.PageSize, cfg.UserAgent, client))
	default:
		return nil, fmt.Errorf("unknown news provider type %q", cfg.News.Type)
	}

	if cfg.Search.Enabled {
		out = append(out, NewSearchProvider(cfg.Search.URL, cfg.Search.APIKey, cfg.Search.Count, cfg.UserAgent, client))
	}

	switch cfg.Extraction.Type {
	case "gemini":
		g, err := NewGeminiExtractor(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model, cfg.Extraction.URL)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	case "http":
		out = append(out, NewHTTPExtractor(cfg.Extraction.URL, cfg.Extraction.APIKey, cfg.UserAgent, client))
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown extraction provider type %q", cfg.Extraction.Type)
	}

	if cfg.DeepResearch.URL != "" {
		out = append(out, NewDeepResearchProvider(cfg.DeepResearch.URL, cfg.DeepResearch.APIKey, cfg.DeepResearch.SourceTarget, cfg.UserAgent, client))
	}
	return out, nil
}
