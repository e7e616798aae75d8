package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/tiered-gateway/auth"
	"github.com/upb/tiered-gateway/config"
	"github.com/upb/tiered-gateway/middleware"
	"github.com/upb/tiered-gateway/repositories"
	"github.com/upb/tiered-gateway/repositories/postgres"
	"github.com/upb/tiered-gateway/services/audit"
	"github.com/upb/tiered-gateway/services/breaker"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/providers/gemini"
	"github.com/upb/tiered-gateway/services/providers/openrouter"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Dispatch ledger; nil when no database is configured
	Dispatches repositories.DispatchRepository
	Recorder   *audit.Recorder

	// Gateway
	Backends *providers.Registry
	Breakers *breaker.Registry
	Gateway  *dispatch.Gateway

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRecorder(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize recorder: %w", err)
	}

	if err := deps.initGateway(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("ledger", deps.DB != nil),
		zap.Bool("gateway_available", deps.Gateway.Available()))
	return deps, nil
}

// initDatabase opens the ledger database when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Warn("database not configured, dispatch ledger disabled")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if cfg.Database.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			d.closeDB()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.Dispatches = postgres.NewDispatchRepository(db, d.Logger)
	return nil
}

// initRecorder starts the async ledger writer
func (d *Dependencies) initRecorder(cfg *config.Config) error {
	if d.Dispatches == nil {
		return nil
	}

	d.Recorder = audit.NewRecorder(d.Dispatches, d.Logger, audit.Config{
		BufferSize:   cfg.Recorder.BufferSize,
		WorkerCount:  cfg.Recorder.WorkerCount,
		WriteTimeout: cfg.Recorder.WriteTimeout,
	})
	return d.Recorder.Start()
}

// initGateway builds the backend registry, breakers and the gateway itself
func (d *Dependencies) initGateway(ctx context.Context, cfg *config.Config) error {
	backends, err := d.initBackends(ctx, cfg)
	if err != nil {
		return err
	}
	d.Backends = backends

	d.Breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Gateway.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Gateway.Breaker.SuccessThreshold,
		Cooldown:         cfg.Gateway.Breaker.Cooldown,
	}, d.Logger)

	opts := dispatch.Options{
		Resolver:  routing.NewResolver(cfg.Gateway.Chains()),
		Breakers:  d.Breakers,
		Backends:  backends,
		Secondary: dispatch.NewSecondaryFallback(secondaryFactory(cfg.Providers.OpenRouter), d.Logger),
		Limits: budget.Limits{
			MaxCostUSD: cfg.Gateway.MaxCostUSD,
			MaxDepth:   cfg.Gateway.MaxDepth,
		},
		BackendTimeout: cfg.Gateway.BackendTimeout,
		Logger:         d.Logger,
	}
	// A typed nil *audit.Recorder must not reach the interface
	if d.Recorder != nil {
		opts.Recorder = d.Recorder
	}

	d.Gateway = dispatch.NewGateway(opts)
	return nil
}

// initBackends registers one backend per configured model. All primary
// backends share a single Gemini client.
func (d *Dependencies) initBackends(ctx context.Context, cfg *config.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if cfg.Providers.Gemini.APIKey == "" {
		d.Logger.Warn("primary provider not configured, requests go to the secondary provider")
		return registry, nil
	}

	pc := providers.DefaultProviderConfig()
	pc.APIKey = cfg.Providers.Gemini.APIKey
	pc.BaseURL = cfg.Providers.Gemini.BaseURL
	pc.Timeout = cfg.Gateway.BackendTimeout

	client, err := gemini.New(ctx, pc, d.Logger)
	if err != nil {
		// Construction failure leaves the gateway unavailable rather than aborting startup
		d.Logger.Error("failed to construct primary provider client", zap.Error(err))
		return registry, nil
	}

	for id, model := range cfg.Gateway.Backends {
		if err := registry.Register(providers.Backend{
			ID:       routing.BackendID(id),
			Model:    model,
			Provider: client,
		}); err != nil {
			return nil, err
		}
		d.Logger.Info("backend registered",
			zap.String("backend", id),
			zap.String("model", model))
	}

	return registry, nil
}

// secondaryFactory defers OpenRouter client construction to first use
func secondaryFactory(cfg config.OpenRouterConfig) dispatch.SecondaryFactory {
	return func() (providers.SecondaryProvider, error) {
		pc := providers.DefaultProviderConfig()
		pc.APIKey = cfg.APIKey
		pc.BaseURL = cfg.BaseURL
		pc.Model = cfg.Model
		if cfg.Timeout > 0 {
			pc.Timeout = cfg.Timeout
		}
		if cfg.Referer != "" {
			pc.Headers["HTTP-Referer"] = cfg.Referer
		}
		if cfg.Title != "" {
			pc.Headers["X-Title"] = cfg.Title
		}
		return openrouter.New(pc)
	}
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("auth secret not configured, protected endpoints reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(auth.RejectAllValidator{}, d.Logger)
		return
	}

	validator, err := auth.NewHMACValidator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		d.Logger.Error("failed to build token validator", zap.Error(err))
		d.AuthMiddleware = middleware.NewAuthMiddleware(auth.RejectAllValidator{}, d.Logger)
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer token validation enabled")
}

func (d *Dependencies) closeDB() {
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the ledger queue before the database goes away
	if d.Recorder != nil {
		timeout := d.Config.Recorder.StopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if err := d.Recorder.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop recorder: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
