package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/impactwatch/impactwatch/common/middleware"
	"github.com/impactwatch/impactwatch/pipeline/internal/handlers"
)

// NewRouter constructs a ServeMux with the pipeline API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/watches/{id}/process", h.ProcessWatch)

	mux.HandleFunc("GET /api/v1/cards", h.ListCards)
	mux.HandleFunc("GET /api/v1/cards/{id}", h.GetCard)
	mux.HandleFunc("POST /api/v1/cards/{id}/review", h.ReviewCard)
	mux.HandleFunc("POST /api/v1/cards/{id}/archive", h.ArchiveCard)
	mux.HandleFunc("POST /api/v1/cards/{id}/deep-dive", h.RequestDeepDive)

	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)

	mux.HandleFunc("POST /api/v1/rules/validate", h.ValidateRules)

	mux.HandleFunc("GET /api/v1/dlq", h.ListDeadLetters)
	mux.HandleFunc("DELETE /api/v1/dlq", h.PurgeDeadLetters)

	return middleware.RequestID(mux)
}
