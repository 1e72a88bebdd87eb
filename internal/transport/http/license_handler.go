package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "varsys/internal/errors"
	"varsys/internal/license"
	"varsys/internal/middleware"
)

// validate is the shared request validator.
var validate = validator.New()

// LicenseService is the slice of the license manager the handler needs.
type LicenseService interface {
	Activate(ctx context.Context, licenseKey, email string) error
	Deactivate(ctx context.Context) error
	Status(ctx context.Context) *license.Status
	IsFeatureEnabled(ctx context.Context, feature string) bool
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the license activation payload.
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
}

// Bind implements the render.Binder interface.
func (req *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// ActivationResponse is returned on successful activation.
type ActivationResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Status    *license.Status `json:"license,omitempty"`
	TraceID   string          `json:"trace_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// FeatureResponse is returned by the feature gate endpoint.
type FeatureResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/activate", h.Activate)
	r.Get("/status", h.GetStatus)
	r.Delete("/", h.Deactivate)
	r.Get("/feature/{name}", h.CheckFeature)

	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		h.logger.WarnContext(ctx, "invalid activation request", "error", err)
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	if err := h.service.Activate(ctx, req.LicenseKey, req.Email); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromLicenseError(err)))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, &ActivationResponse{
		Success:   true,
		Message:   "License activated",
		Status:    h.service.Status(ctx),
		TraceID:   middleware.GetReqID(ctx),
		Timestamp: time.Now().UTC(),
	})
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status(r.Context()))
}

// Deactivate handles DELETE /api/license
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Deactivate(ctx); err != nil {
		h.logger.ErrorContext(ctx, "license deactivation failed", "error", err)
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromLicenseError(err)))
		return
	}

	render.NoContent(w, r)
}

// CheckFeature handles GET /api/license/feature/{name}. It always answers
// 200 with a boolean; the gate itself never errors.
func (h *LicenseHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrMissingParameter))
		return
	}

	render.JSON(w, r, &FeatureResponse{
		Feature: name,
		Enabled: h.service.IsFeatureEnabled(r.Context(), name),
	})
}
