// Package providers holds the concrete upstream adapters registered with the
// gateway. Each adapter returns the raw upstream payload; decoding happens in
// the normalizer, extraction and jobs packages.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
)

const maxResponseBytes = 4 << 20

// httpDoer is the shared request path for the HTTP adapters.
type httpDoer struct {
	name      string
	client    *http.Client
	userAgent string
}

func newHTTPDoer(name string, client *http.Client, userAgent string) httpDoer {
	if client == nil {
		// Call deadlines come from the gateway's per-class timeout.
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return httpDoer{name: name, client: client, userAgent: userAgent}
}

func (d httpDoer) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", d.name, err)
	}
	return d.do(req, header)
}

func (d httpDoer) postJSON(ctx context.Context, url string, header http.Header, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", d.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", d.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, header)
}

func (d httpDoer) do(req *http.Request, header http.Header) ([]byte, error) {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", d.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gateway.NewHTTPError(d.name, resp, body)
	}
	return body, nil
}
