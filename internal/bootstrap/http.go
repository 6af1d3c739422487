package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/scalehouse/auth-service/config"
	httpx "github.com/scalehouse/auth-service/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config *config.AppConfig
	Auth   *AuthContainer
	Logger *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil || cfg.Auth == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Auth:         cfg.Auth.Manager,
		SessionStore: cfg.Auth.SessionStore,
		CookieDomain: appCfg.HTTP.CookieDomain,
		CookieSecure: appCfg.HTTP.CookieSecure,
		BaseURL:      appCfg.HTTP.BaseURL,
		Logger:       logger,
	})

	// Behind a TLS-terminating gateway the internal listener can speak
	// cleartext HTTP/2.
	if appCfg.HTTP.H2C {
		logger.Info("h2c enabled")
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:         appCfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  appCfg.HTTP.ReadTimeout,
		WriteTimeout: appCfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger != nil {
		logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("HTTP server stopped")
	}
	return nil
}
