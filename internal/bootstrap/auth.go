package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	redislib "github.com/redis/go-redis/v9"
	"github.com/scalehouse/auth-service/config"
	"github.com/scalehouse/auth-service/internal/adapters/devauth"
	"github.com/scalehouse/auth-service/internal/adapters/oidc"
	adapterredis "github.com/scalehouse/auth-service/internal/adapters/redis"
	"github.com/scalehouse/auth-service/internal/observability/metrics"
	"github.com/scalehouse/auth-service/internal/observability/statsd"
	"github.com/scalehouse/auth-service/internal/ports"
	"github.com/scalehouse/auth-service/internal/service"
)

// AuthContainer groups the wired session manager with the store handles the
// HTTP layer needs.
type AuthContainer struct {
	Manager      *service.SessionManager
	SessionStore *adapterredis.SessionStore
	Statsd       *statsd.Client
}

// BuildAuth wires the token provider, stores, refresh lock, and session
// manager from configuration.
func BuildAuth(
	ctx context.Context,
	cfg config.AppConfig,
	client redislib.UniversalClient,
	logger *slog.Logger,
) (*AuthContainer, error) {
	provider, err := buildTokenProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	sessions := adapterredis.NewSessionStore(client)
	challenges := adapterredis.NewChallengeStore(client)
	locks := adapterredis.NewRefreshLock(client)

	statsdClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Statsd.Enabled,
		Address: cfg.Statsd.Address,
		Prefix:  cfg.Statsd.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build statsd client: %w", err)
	}
	if statsdClient.Enabled() {
		logger.Info("statsd metrics enabled", "address", cfg.Statsd.Address)
	}

	manager := service.NewSessionManager(service.Options{
		Provider:   provider,
		Sessions:   sessions,
		Challenges: challenges,
		Locks:      locks,
		Config: service.Config{
			SlidingWindow:    cfg.Auth.Session.SlidingWindow(),
			AbsoluteWindow:   cfg.Auth.Session.AbsoluteWindow(),
			PkceTTL:          cfg.Auth.Session.PkceTTL(),
			RefreshThreshold: cfg.Auth.Session.RefreshThreshold(),
			RotationGrace:    cfg.Auth.Session.RotationGrace(),
		},
		Logger:  logger,
		Metrics: metrics.NewAuthRecorder(statsdClient),
	})

	return &AuthContainer{Manager: manager, SessionStore: sessions, Statsd: statsdClient}, nil
}

func buildTokenProvider(cfg config.AppConfig, logger *slog.Logger) (ports.TokenProvider, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		if !cfg.IsDev {
			return nil, fmt.Errorf("auth mode %q is only allowed in development", cfg.Auth.Mode)
		}
		logger.Warn("using mock authentication, do not use in production",
			"user_id", cfg.Auth.DevAuth.UserID)
		return devauth.NewProvider(devauth.Config{
			UserID: cfg.Auth.DevAuth.UserID,
			Email:  cfg.Auth.DevAuth.Email,
		})
	case config.AuthModeOIDC:
		provider, err := oidc.NewProvider(oidc.ProviderConfig{
			Authority:     cfg.Auth.OIDC.Authority,
			ClientID:      cfg.Auth.OIDC.ClientID,
			ClientSecret:  cfg.Auth.OIDC.ClientSecret,
			RedirectURI:   cfg.Auth.OIDC.RedirectURI,
			Scopes:        cfg.Auth.OIDC.Scopes,
			EndSessionURL: cfg.Auth.OIDC.EndSessionURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build oidc provider: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Auth.Mode)
	}
}
