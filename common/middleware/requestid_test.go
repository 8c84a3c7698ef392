package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		existing string
	}{
		{name: "generates new request ID when not present"},
		{name: "propagates existing request ID", existing: "existing-req-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
			if tt.existing != "" {
				req.Header.Set(RequestIDHeader, tt.existing)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.NotEmpty(t, captured)
			assert.Equal(t, captured, w.Header().Get(RequestIDHeader))
			if tt.existing != "" {
				assert.Equal(t, tt.existing, captured)
			} else {
				_, err := uuid.Parse(captured)
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	ctx := context.WithValue(context.Background(), RequestIDKey, 42)
	assert.Empty(t, GetRequestID(ctx))
}

func TestRunID(t *testing.T) {
	assert.Empty(t, GetRunID(context.Background()))

	ctx := WithRunID(context.Background(), "run-1")
	assert.Equal(t, "run-1", GetRunID(ctx))

	ctx, id := NewRunID(context.Background())
	assert.Equal(t, id, GetRunID(ctx))
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}
