// Package client is the HTTP client iwctl uses to talk to the pipeline API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the pipeline.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("pipeline returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

type PipelineClient struct {
	baseURL string
	client  *http.Client
}

func NewPipelineClient(baseURL string) *PipelineClient {
	return &PipelineClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *PipelineClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	// Rule validation reports problems with 422 and a normal body.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *PipelineClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, "application/json", body, out)
}

// ProcessWatch runs one cycle for a watch. keywords override the configured ones.
func (c *PipelineClient) ProcessWatch(ctx context.Context, watchID string, keywords []string) (*CycleReport, error) {
	var in any
	if len(keywords) > 0 {
		in = map[string][]string{"keywords": keywords}
	}
	var report CycleReport
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/watches/"+url.PathEscape(watchID)+"/process", in, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *PipelineClient) ListCards(ctx context.Context, watchID, status string, limit int) ([]Card, error) {
	q := url.Values{}
	if watchID != "" {
		q.Set("watch_id", watchID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/cards"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Cards []Card `json:"cards"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cards, nil
}

func (c *PipelineClient) GetCard(ctx context.Context, id string) (*Card, error) {
	return c.card(ctx, http.MethodGet, "/api/v1/cards/"+url.PathEscape(id))
}

func (c *PipelineClient) ReviewCard(ctx context.Context, id string) (*Card, error) {
	return c.card(ctx, http.MethodPost, "/api/v1/cards/"+url.PathEscape(id)+"/review")
}

func (c *PipelineClient) ArchiveCard(ctx context.Context, id string) (*Card, error) {
	return c.card(ctx, http.MethodPost, "/api/v1/cards/"+url.PathEscape(id)+"/archive")
}

func (c *PipelineClient) card(ctx context.Context, method, path string) (*Card, error) {
	var card Card
	if err := c.doJSON(ctx, method, path, nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// RequestDeepDive queues a deep dive and returns the job ID.
func (c *PipelineClient) RequestDeepDive(ctx context.Context, cardID string) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/cards/"+url.PathEscape(cardID)+"/deep-dive", nil, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (c *PipelineClient) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitJob polls until the job is Ready or Failed, or ctx ends.
func (c *PipelineClient) WaitJob(ctx context.Context, id string, every time.Duration) (*Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ValidateRules checks a YAML rule table without installing it.
func (c *PipelineClient) ValidateRules(ctx context.Context, data []byte) (*RuleValidation, error) {
	var v RuleValidation
	if err := c.do(ctx, http.MethodPost, "/api/v1/rules/validate", "application/yaml", bytes.NewReader(data), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *PipelineClient) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	var resp struct {
		Entries []DeadLetter `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/dlq?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *PipelineClient) PurgeDeadLetters(ctx context.Context) (int, error) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/dlq", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (c *PipelineClient) Health(ctx context.Context) (map[string]any, error) {
	var h map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return h, nil
}
