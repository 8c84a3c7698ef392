package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey = contextKey("request-id")

// RunIDKey is the context key for pipeline run IDs. A run is one ProcessWatch
// cycle or one deep-dive job execution, whichever started the work.
const RunIDKey = contextKey("run-id")

// RequestIDHeader is the header used to propagate request IDs.
const RequestIDHeader = "X-Request-ID"

// RequestID generates or propagates request IDs.
// An existing X-Request-ID header is reused, otherwise a new UUID is issued.
// The ID is echoed in the response header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WithRunID returns a copy of ctx carrying runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// NewRunID stores a freshly generated run ID in ctx and returns both.
func NewRunID(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRunID(ctx, id), id
}

// GetRunID extracts the run ID from the context.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}
