// Package gateway wires the policy checker into a runnable service that can
// be embedded into other Go applications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/lei/ghe-policy-check/internal/api"
	"github.com/lei/ghe-policy-check/internal/config"
	"github.com/lei/ghe-policy-check/internal/policy"
	"github.com/lei/ghe-policy-check/internal/store"
	"github.com/lei/ghe-policy-check/internal/webhook"
	"github.com/lei/ghe-policy-check/pkg/logger"
)

// Config is the service configuration. It is the same structure the YAML
// config file decodes into.
type Config = config.Config

// Configuration sections, exported for programmatic setups
type (
	ServerConfig   = config.ServerConfig
	AuthConfig     = config.AuthConfig
	APIKey         = config.APIKey
	GitHubConfig   = config.GitHubConfig
	DatabaseConfig = config.DatabaseConfig
	PollingConfig  = config.PollingConfig
	LoggingConfig  = config.LoggingConfig
)

// Gateway is a policy checker instance: the mirror store, the policy
// service and the HTTP surface that receives GitHub webhooks.
type Gateway struct {
	config  *Config
	store   *store.Store
	service *policy.Service
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger
}

// New creates a new Gateway from cfg. The mirror store is opened and
// migrated; call Close when the gateway is not started.
func New(ctx context.Context, cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	policyFile, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	appLogger.Info("opened mirror store", "driver", cfg.Database.Driver)

	clients := policy.NewClientFactory(cfg.GitHub, appLogger)
	svc := policy.NewService(st, clients, policy.Config{
		OwnerUser: cfg.GitHub.OwnerUser,
		Polling:   cfg.Polling,
		Policy:    policyFile,
	}, appLogger)

	registry := webhook.NewRegistry()
	if err := svc.RegisterHandlers(registry); err != nil {
		st.Close()
		return nil, fmt.Errorf("register webhook handlers: %w", err)
	}
	dispatcher := webhook.NewDispatcher(cfg.GitHub.WebhookSecret, registry, appLogger)

	handlers := api.NewHandlers(svc, dispatcher)
	authMiddleware := api.NewAuthMiddleware(cfg.Auth.APIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Gateway{
		config:  cfg,
		store:   st,
		service: svc,
		router:  router,
		server:  srv,
		logger:  appLogger,
	}, nil
}

// NewFromFile creates a Gateway from a YAML config file
func NewFromFile(ctx context.Context, path string) (*Gateway, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// NewFromEnv creates a Gateway from environment variables
func NewFromEnv(ctx context.Context) (*Gateway, error) {
	return New(ctx, config.FromEnv())
}

// Start starts the HTTP server
// This is a blocking call that will run until the context is canceled or an error occurs
func (g *Gateway) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		g.logger.Info("starting http server", "port", g.config.Server.Port)
		serverErrors <- g.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return multierr.Append(fmt.Errorf("server error: %w", err), g.Close())
		}
		return g.Close()

	case <-ctx.Done():
		g.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.server.Close()
			return multierr.Append(fmt.Errorf("graceful shutdown failed: %w", err), g.Close())
		}

		g.logger.Info("server stopped gracefully")
		return g.Close()
	}
}

// taskGracePeriod bounds how long Close lets queued background tasks finish
const taskGracePeriod = 10 * time.Second

// Close gives queued background tasks taskGracePeriod to finish, cancels
// the rest and closes the mirror store.
func (g *Gateway) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), taskGracePeriod)
	defer cancel()

	var errs error
	if err := g.service.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("background tasks: %w", err))
	}
	return multierr.Append(errs, g.store.Close())
}

// Handler returns the http.Handler for the gateway
// Use this if you want to integrate the gateway into an existing HTTP server
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Service returns the underlying policy service
// Use this for direct programmatic access, e.g. to run polling from a scheduler
func (g *Gateway) Service() *policy.Service {
	return g.service
}

// Logger returns the gateway logger
func (g *Gateway) Logger() *logger.Logger {
	return g.logger
}
