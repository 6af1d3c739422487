package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scalehouse/auth-service/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting auth service",
		"auth_mode", cfg.Auth.Mode,
		"addr", cfg.HTTP.Addr,
		"is_dev", cfg.IsDev)

	redisClient, err := bootstrap.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	auth, err := bootstrap.BuildAuth(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := auth.Statsd.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close statsd failed", "error", cerr)
		}
	}()

	server := bootstrap.StartHTTPServer(&bootstrap.HTTPServerConfig{
		Config: &cfg,
		Auth:   auth,
		Logger: logger,
	})

	// Block until asked to stop.
	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	return bootstrap.ShutdownHTTPServer(ctx, server, logger)
}
