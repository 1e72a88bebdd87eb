package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "varsys/internal/errors"
	"varsys/internal/vault"
)

// VaultService is the slice of the secret vault the handler needs.
type VaultService interface {
	Store(ctx context.Context, protectedConfig map[string]string) error
	Retrieve(ctx context.Context) (map[string]string, error)
	Destroy(ctx context.Context) error
	Status(ctx context.Context) *vault.Status
}

// VaultHandler handles vault HTTP requests
type VaultHandler struct {
	service VaultService
	logger  *slog.Logger
}

// NewVaultHandler creates a new vault handler
func NewVaultHandler(service VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "vault")),
	}
}

// StoreRequest is the vault store payload.
type StoreRequest struct {
	Config map[string]string `json:"config" validate:"required,min=1"`
}

// Bind implements the render.Binder interface.
func (req *StoreRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// ConfigResponse wraps the released protected config.
type ConfigResponse struct {
	Config map[string]string `json:"config"`
}

// Routes returns a chi router for vault endpoints
func (h *VaultHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Put("/", h.Store)
	r.Get("/", h.Retrieve)
	r.Delete("/", h.Destroy)
	r.Get("/status", h.GetStatus)

	return r
}

// Store handles PUT /api/vault
func (h *VaultHandler) Store(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &StoreRequest{}
	if err := render.Bind(r, req); err != nil {
		h.logger.WarnContext(ctx, "invalid vault store request", "error", err)
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	if err := h.service.Store(ctx, req.Config); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromVaultError(err)))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]bool{"success": true})
}

// Retrieve handles GET /api/vault. The config is only released after the
// full verification chain passes.
func (h *VaultHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	config, err := h.service.Retrieve(ctx)
	if err != nil {
		if !errors.Is(err, vault.ErrVaultMissing) {
			h.logger.WarnContext(ctx, "vault retrieve refused", "error_code", vault.ErrorCode(err))
		}
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromVaultError(err)))
		return
	}

	render.JSON(w, r, &ConfigResponse{Config: config})
}

// Destroy handles DELETE /api/vault
func (h *VaultHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Destroy(ctx); err != nil {
		h.logger.ErrorContext(ctx, "vault destroy failed", "error", err)
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromVaultError(err)))
		return
	}

	render.NoContent(w, r)
}

// GetStatus handles GET /api/vault/status
func (h *VaultHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status(r.Context()))
}
