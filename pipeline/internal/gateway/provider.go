package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind is a provider class. Each class has its own cache TTL, timeout and
// backpressure settings.
type Kind string

const (
	KindNews         Kind = "news"
	KindSearch       Kind = "search"
	KindExtraction   Kind = "extraction"
	KindDeepResearch Kind = "deep_research"
)

// Request is one provider query. Query is a search string for news and
// search providers and the prompt payload for extraction and deep research.
type Request struct {
	Query   string
	Options map[string]string
}

// Provider is an upstream source the gateway fronts.
type Provider interface {
	Name() string
	Kind() Kind
	Call(ctx context.Context, req Request) ([]byte, error)
}

// ProviderError carries the upstream HTTP status so the gateway can classify it.
type ProviderError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewHTTPError builds a ProviderError from a non-2xx response, reading Retry-After.
func NewHTTPError(provider string, resp *http.Response, body []byte) *ProviderError {
	pe := &ProviderError{Provider: provider, Status: resp.StatusCode}
	if len(body) > 0 {
		if len(body) > 256 {
			body = body[:256]
		}
		pe.Err = errors.New(string(body))
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			pe.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return pe
}

// Retryable reports whether err belongs to a retryable class: timeouts,
// HTTP 429, HTTP 503 and HTTP 504. Other 4xx never retry.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RateLimited reports whether err is an upstream 429.
func RateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == http.StatusTooManyRequests
}

// countsAsFailure reports whether err should move the breaker. Client errors
// other than 429 mean the provider answered, and caller cancellation says
// nothing about provider health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	}
	return true
}

func asProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}
