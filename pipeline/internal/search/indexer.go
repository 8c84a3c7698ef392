// Package search mirrors canonical signals and impact cards into OpenSearch
// for analyst queries.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// Indexer receives documents after they are persisted. Indexing is best
// effort: failures are logged and counted, never returned to the pipeline.
type Indexer interface {
	IndexSignal(ctx context.Context, sig *model.CanonicalSignal)
	IndexCard(ctx context.Context, card *model.ImpactCard)
	Close(ctx context.Context) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IndexSignal(context.Context, *model.CanonicalSignal) {}
func (Nop) IndexCard(context.Context, *model.ImpactCard)        {}
func (Nop) Close(context.Context) error                         { return nil }

// OpenSearchIndexer batches documents through a bulk indexer. Documents are
// keyed by ID so re-indexing an updated card replaces it.
type OpenSearchIndexer struct {
	client  *opensearch.Client
	bulk    opensearchutil.BulkIndexer
	prefix  string
	logger  *logging.Logger
	indexed atomic.Int64
	failed  atomic.Int64
}

// NewOpenSearchIndexer connects, creates the indices when missing and starts
// the bulk indexer.
func NewOpenSearchIndexer(ctx context.Context, cfg config.OpenSearchConfig, logger *logging.Logger) (*OpenSearchIndexer, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "impactwatch"
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}

	idx := &OpenSearchIndexer{
		client: client,
		prefix: prefix,
		logger: logging.OrDefault(logger).With(logging.Service("search")),
	}
	if err := idx.ensureIndex(ctx, idx.SignalIndex(), signalMappings); err != nil {
		return nil, err
	}
	if err := idx.ensureIndex(ctx, idx.CardIndex(), cardMappings); err != nil {
		return nil, err
	}

	bulk, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        client,
		NumWorkers:    1,
		FlushInterval: flush,
		OnError: func(ctx context.Context, err error) {
			metrics.IndexErrors.Inc()
			idx.logger.Warn("bulk flush failed", logging.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	idx.bulk = bulk
	return idx, nil
}

func (i *OpenSearchIndexer) SignalIndex() string { return i.prefix + "-signals" }
func (i *OpenSearchIndexer) CardIndex() string   { return i.prefix + "-cards" }

func (i *OpenSearchIndexer) ensureIndex(ctx context.Context, name string, mappings map[string]any) error {
	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", name, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]any{"mappings": mappings})
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(body)}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		// Another replica may have created it first.
		if strings.Contains(string(msg), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s - %s", name, res.Status(), string(msg))
	}
	i.logger.Info("index created", slog.String("index", name))
	return nil
}

func (i *OpenSearchIndexer) IndexSignal(ctx context.Context, sig *model.CanonicalSignal) {
	i.add(ctx, i.SignalIndex(), sig.ID, signalDocument(sig))
}

func (i *OpenSearchIndexer) IndexCard(ctx context.Context, card *model.ImpactCard) {
	i.add(ctx, i.CardIndex(), card.ID, card)
}

func (i *OpenSearchIndexer) add(ctx context.Context, index, id string, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		metrics.IndexErrors.Inc()
		i.logger.WarnContext(ctx, "failed to encode document", slog.String("index", index), logging.Error(err))
		return
	}
	err = i.bulk.Add(ctx, opensearchutil.BulkIndexerItem{
		Index:      index,
		Action:     "index",
		DocumentID: id,
		Body:       bytes.NewReader(data),
		OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
			i.indexed.Add(1)
		},
		OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
			i.failed.Add(1)
			metrics.IndexErrors.Inc()
			reason := ""
			if err != nil {
				reason = err.Error()
			} else {
				reason = res.Error.Type + ": " + res.Error.Reason
			}
			i.logger.Warn("document rejected", slog.String("index", item.Index), slog.String("id", item.DocumentID), slog.String("reason", reason))
		},
	})
	if err != nil {
		metrics.IndexErrors.Inc()
		i.logger.WarnContext(ctx, "failed to queue document", slog.String("index", index), logging.Error(err))
	}
}

// Stats reports documents acknowledged and rejected so far.
func (i *OpenSearchIndexer) Stats() (indexed, failed int64) {
	return i.indexed.Load(), i.failed.Load()
}

// Close flushes pending documents.
func (i *OpenSearchIndexer) Close(ctx context.Context) error {
	return i.bulk.Close(ctx)
}

// signalDoc flattens a canonical signal for search; alternates are reduced
// to their publishers.
type signalDoc struct {
	ID                 string                  `json:"id"`
	WatchID            string                  `json:"watch_id"`
	Title              string                  `json:"title"`
	BodyExcerpt        string                  `json:"body_excerpt"`
	URL                string                  `json:"url"`
	PublishedAt        time.Time               `json:"published_at"`
	Publishers         []string                `json:"publishers"`
	CorroborationCount int                     `json:"corroboration_count"`
	EventType          model.EventType         `json:"event_type,omitempty"`
	Extraction         *model.ExtractionResult `json:"extraction,omitempty"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

func signalDocument(sig *model.CanonicalSignal) signalDoc {
	doc := signalDoc{
		ID:                 sig.ID,
		WatchID:            sig.WatchID,
		Title:              sig.Title,
		BodyExcerpt:        sig.BodyExcerpt,
		URL:                sig.URL,
		PublishedAt:        sig.PublishedAt,
		CorroborationCount: sig.CorroborationCount,
		Extraction:         sig.Extraction,
		UpdatedAt:          sig.UpdatedAt,
	}
	seen := map[string]bool{}
	for _, s := range sig.Sources {
		if !seen[s.PublisherID] {
			seen[s.PublisherID] = true
			doc.Publishers = append(doc.Publishers, s.PublisherID)
		}
	}
	if sig.Extraction != nil {
		doc.EventType = sig.Extraction.EventType
	}
	return doc
}

var signalMappings = map[string]any{
	"dynamic": true,
	"properties": map[string]any{
		"id":                  map[string]any{"type": "keyword"},
		"watch_id":            map[string]any{"type": "keyword"},
		"title":               map[string]any{"type": "text"},
		"body_excerpt":        map[string]any{"type": "text"},
		"url":                 map[string]any{"type": "keyword"},
		"publishers":          map[string]any{"type": "keyword"},
		"event_type":          map[string]any{"type": "keyword"},
		"published_at":        map[string]any{"type": "date"},
		"updated_at":          map[string]any{"type": "date"},
		"corroboration_count": map[string]any{"type": "integer"},
	},
}

var cardMappings = map[string]any{
	"dynamic": true,
	"properties": map[string]any{
		"id":                   map[string]any{"type": "keyword"},
		"watch_id":             map[string]any{"type": "keyword"},
		"title":                map[string]any{"type": "text"},
		"status":               map[string]any{"type": "keyword"},
		"risk_level":           map[string]any{"type": "keyword"},
		"risk_score":           map[string]any{"type": "float"},
		"confidence":           map[string]any{"type": "float"},
		"event_types":          map[string]any{"type": "keyword"},
		"canonical_signal_ids": map[string]any{"type": "keyword"},
		"created_at":           map[string]any{"type": "date"},
		"updated_at":           map[string]any{"type": "date"},
	},
}
