// Package http wires the vault server's HTTP surface: the license and
// vault endpoints the rest of the product calls, plus health, audit
// inspection, and the Prometheus scrape endpoint.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"varsys/internal/audit"
	"varsys/internal/config"
	"varsys/internal/infrastructure"
	custommw "varsys/internal/middleware"
)

// NewRouter builds the full router with the standard middleware chain:
// RequestID -> RealIP -> StructuredLogger -> Recoverer -> SecurityHeaders ->
// RateLimiter -> Timeout -> metrics.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	providers *infrastructure.MetricsProviders,
	licenseService LicenseService,
	vaultService VaultService,
	accessLog *audit.Logger,
) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(logger))
	r.Use(custommw.Recoverer(logger))
	r.Use(custommw.SecurityHeaders)

	rateLimiter := custommw.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, logger)
	r.Use(rateLimiter.Handler)
	r.Use(custommw.Timeout(cfg.Server.RequestTimeout, logger))

	if providers != nil {
		otelMW, err := custommw.NewOTelMiddleware(providers)
		if err != nil {
			return nil, err
		}
		r.Use(otelMW.Handler)
	}

	licenseHandler := NewLicenseHandler(licenseService, logger)
	vaultHandler := NewVaultHandler(vaultService, logger)
	healthHandler := NewHealthHandler(accessLog, logger)

	r.Route("/api", func(api chi.Router) {
		api.Mount("/license", licenseHandler.Routes())
		api.Mount("/vault", vaultHandler.Routes())
		api.Get("/audit/recent", healthHandler.RecentAudit)
	})

	r.Get("/healthz", healthHandler.Healthz)
	if providers != nil {
		r.Method(http.MethodGet, "/metrics", providers.PrometheusHTTP)
	}

	return r, nil
}
