package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"varsys/internal/audit"
	apierrors "varsys/internal/errors"
	"varsys/internal/infrastructure"
)

// HealthHandler serves liveness and audit inspection endpoints.
type HealthHandler struct {
	accessLog *audit.Logger
	logger    *slog.Logger
	started   time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(accessLog *audit.Logger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		accessLog: accessLog,
		logger:    logger.With(slog.String("handler", "health")),
		started:   time.Now(),
	}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, &HealthResponse{
		Status:  "ok",
		Service: infrastructure.ServiceName,
		Version: infrastructure.ServiceVersion,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// RecentAudit handles GET /api/audit/recent?n=. Entries carry no secret
// material by construction, so the endpoint releases them as-is.
func (h *HealthHandler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.ErrValidation("n", "must be an integer between 1 and 1000")))
			return
		}
		n = parsed
	}

	entries, err := h.accessLog.Tail(n)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read audit log", "error", err)
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrFileSystem))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	render.JSON(w, r, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
