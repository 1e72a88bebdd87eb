// Package app assembles the vault server: configuration, logging, metrics,
// the license manager, the secret vault, and the HTTP surface. All state is
// held by an explicit Application constructed once at startup; there are no
// package-level singletons.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"varsys/internal/audit"
	"varsys/internal/config"
	"varsys/internal/infrastructure"
	"varsys/internal/license"
	"varsys/internal/security"
	transport "varsys/internal/transport/http"
	"varsys/internal/vault"
)

// Application is the composition root for the vault server.
type Application struct {
	Config         *config.Config
	Logger         *slog.Logger
	Metrics        *infrastructure.MetricsProviders
	Fingerprint    *security.FingerprintManager
	AccessLog      *audit.Logger
	LicenseManager *license.Manager
	Vault          *vault.Vault
	Server         *http.Server
}

// New builds the application from configuration loaded out of the
// environment and the optional config file.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Secrets.DevDefaults {
		logger.Warn("running with built-in development secrets; set VARSYS_APP_SECRET, VARSYS_VAULT_SECRET and VARSYS_INTEGRITY_KEY in production")
	}

	metrics, err := infrastructure.InitializeMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	fingerprint := security.NewFingerprintManager()
	accessLog := audit.NewLogger(cfg.Paths.AccessLogFile, fingerprint)

	authority := buildAuthority(cfg, logger)

	manager := license.NewManager(cfg, authority, fingerprint, accessLog)
	if licenseMetrics, err := license.NewMetrics(metrics.Meter); err == nil {
		manager.SetMetrics(licenseMetrics)
	} else {
		logger.Warn("license metrics disabled", "error", err)
	}

	secretVault := vault.New(cfg, manager, fingerprint, accessLog)
	if vaultMetrics, err := vault.NewMetrics(metrics.Meter); err == nil {
		secretVault.SetMetrics(vaultMetrics)
	} else {
		logger.Warn("vault metrics disabled", "error", err)
	}

	router, err := transport.NewRouter(cfg, logger, metrics, manager, secretVault, accessLog)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		Fingerprint:    fingerprint,
		AccessLog:      accessLog,
		LicenseManager: manager,
		Vault:          secretVault,
		Server:         server,
	}, nil
}

// buildAuthority selects the license authority: the remote HTTP client when
// a URL is configured, otherwise the built-in local authority.
func buildAuthority(cfg *config.Config, logger *slog.Logger) license.Authority {
	if cfg.Authority.URL != "" {
		logger.Info("using remote license authority", "url", cfg.Authority.URL)
		return license.NewHTTPAuthority(cfg.Authority.URL, cfg.Authority.Timeout)
	}
	logger.Info("no authority URL configured, using built-in local authority")
	return license.NewStaticAuthority()
}

// Run starts the HTTP server and blocks until shutdown completes.
func (a *Application) Run() error {
	errChan := make(chan error, 1)

	go func() {
		a.Logger.Info("vault server listening",
			"addr", a.Server.Addr,
			"data_dir", a.Config.Paths.DataDir,
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.Logger.Info("shutdown signal received", "signal", sig.String())
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight requests and tears down background state.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http server shutdown failed", "error", err)
	}

	a.LicenseManager.Close()

	if a.Metrics != nil && a.Metrics.MeterProvider != nil {
		flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
		defer flushCancel()
		if err := a.Metrics.MeterProvider.Shutdown(flushCtx); err != nil {
			a.Logger.Warn("metrics provider shutdown failed", "error", err)
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	a.Logger.Info("shutdown complete")
	return nil
}
