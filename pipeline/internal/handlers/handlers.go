package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/impactwatch/impactwatch/common/httputil"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	"github.com/impactwatch/impactwatch/pipeline/internal/dlq"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/service"
)

// Pipeline is the service surface exposed over HTTP.
type Pipeline interface {
	ProcessWatch(ctx context.Context, watchID string, keywords []string) (*service.CycleReport, error)
	RequestDeepDive(ctx context.Context, cardID string) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (model.JobStatusView, error)
	GetCard(ctx context.Context, cardID string) (*model.ImpactCard, error)
	ListCards(ctx context.Context, filter repository.CardFilter) ([]*model.ImpactCard, error)
	ReviewCard(ctx context.Context, cardID string) (*model.ImpactCard, error)
	ArchiveCard(ctx context.Context, cardID string) (*model.ImpactCard, error)
	ValidateRules(data []byte) service.RuleValidation
	Health(ctx context.Context) service.Health
}

// DeadLetters is the DLQ surface exposed over HTTP. It may be nil.
type DeadLetters interface {
	List(ctx context.Context, limit int) ([]dlq.Entry, error)
	Purge(ctx context.Context) (int, error)
	Stats() map[string]any
}

type Handler struct {
	pipeline Pipeline
	dlq      DeadLetters
	broker   messaging.Client
	logger   *logging.Logger
}

// NewHandler builds the HTTP handlers. dl and broker may be nil.
func NewHandler(p Pipeline, dl DeadLetters, broker messaging.Client, logger *logging.Logger) *Handler {
	return &Handler{
		pipeline: p,
		dlq:      dl,
		broker:   broker,
		logger:   logging.OrDefault(logger).With(logging.Service("http")),
	}
}

// ProcessWatchRequest optionally overrides the configured keywords.
type ProcessWatchRequest struct {
	Keywords []string `json:"keywords,omitempty"`
}

// ProcessWatch handles POST /api/v1/watches/{id}/process
func (h *Handler) ProcessWatch(w http.ResponseWriter, r *http.Request) {
	var req ProcessWatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	report, err := h.pipeline.ProcessWatch(r.Context(), r.PathValue("id"), req.Keywords)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// DeepDiveResponse carries the queued job's ID.
type DeepDiveResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// RequestDeepDive handles POST /api/v1/cards/{id}/deep-dive
func (h *Handler) RequestDeepDive(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.pipeline.RequestDeepDive(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+jobID)
	httputil.WriteJSON(w, http.StatusAccepted, DeepDiveResponse{JobID: jobID, Status: model.JobQueued})
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.pipeline.GetJobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// ListCardsResponse wraps a page of cards.
type ListCardsResponse struct {
	Cards []*model.ImpactCard `json:"cards"`
	Count int                 `json:"count"`
}

// ListCards handles GET /api/v1/cards?watch_id=&status=&limit=
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CardFilter{
		WatchID: q.Get("watch_id"),
		Status:  model.CardStatus(q.Get("status")),
		Limit:   min(httputil.ParseIntParam(q.Get("limit"), 50), 500),
	}
	cards, err := h.pipeline.ListCards(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if cards == nil {
		cards = []*model.ImpactCard{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListCardsResponse{Cards: cards, Count: len(cards)})
}

// GetCard handles GET /api/v1/cards/{id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.pipeline.GetCard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, card)
}

// ReviewCard handles POST /api/v1/cards/{id}/review
func (h *Handler) ReviewCard(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipeline.ReviewCard)
}

// ArchiveCard handles POST /api/v1/cards/{id}/archive
func (h *Handler) ArchiveCard(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipeline.ArchiveCard)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*model.ImpactCard, error)) {
	card, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, card)
}

// ValidateRules handles POST /api/v1/rules/validate with a YAML rule table body.
func (h *Handler) ValidateRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result := h.pipeline.ValidateRules(data)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, result)
}

// ListDeadLetters handles GET /api/v1/dlq?limit=
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "dlq_disabled", "dead letter queue is not enabled")
		return
	}
	entries, err := h.dlq.List(r.Context(), httputil.ParseIntParam(r.URL.Query().Get("limit"), 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "stats": h.dlq.Stats()})
}

// PurgeDeadLetters handles DELETE /api/v1/dlq
func (h *Handler) PurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "dlq_disabled", "dead letter queue is not enabled")
		return
	}
	n, err := h.dlq.Purge(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

type HealthResponse struct {
	service.Health
	Messaging messaging.HealthStatus `json:"messaging"`
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Health:    h.pipeline.Health(r.Context()),
		Messaging: messaging.CheckClientHealth(h.broker),
	}
	if resp.Messaging.Enabled && !resp.Messaging.Connected && resp.Status == "ok" {
		resp.Status = "degraded"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// writeServiceError maps pipeline sentinel errors onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, model.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
		w.Header().Set("Retry-After", "60")
	case errors.Is(err, model.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, model.ErrShuttingDown):
		status, code = http.StatusServiceUnavailable, "shutting_down"
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("request failed",
			logging.Method(r.Method), logging.Path(r.URL.Path), logging.Status(status), logging.Error(err))
	}
	httputil.WriteError(w, status, code, strings.TrimSpace(err.Error()))
}
