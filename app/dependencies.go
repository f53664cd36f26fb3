package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/upb/jobportal/auth"
	"github.com/upb/jobportal/config"
	"github.com/upb/jobportal/handlers"
	"github.com/upb/jobportal/internal/observability"
	"github.com/upb/jobportal/middleware"
	"github.com/upb/jobportal/repositories"
	"github.com/upb/jobportal/repositories/postgres"
	"github.com/upb/jobportal/services"
	"github.com/upb/jobportal/tokens"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Redis   *redis.Client
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Principals repositories.PrincipalRepository
	TxManager  repositories.TransactionManager

	// Auth
	Tokens         *tokens.Service
	Registry       tokens.RefreshRegistry
	AuthService    *services.AuthService
	AuthMiddleware *middleware.AuthMiddleware

	// HTTP handlers
	AuthHandler   *auth.Handler
	HealthHandler *handlers.HealthHandler
	PortalHandler *handlers.PortalHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesFromFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromFactory wires the application over an existing
// repository factory. Tests use it with a sqlmock connection.
func NewDependenciesFromFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initRegistry(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize refresh registry: %w", err)
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initAuth(); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.HealthHandler = handlers.NewHealthHandler(deps.DB.DB, deps.Redis, logger)
	deps.PortalHandler = handlers.NewPortalHandler(deps.AuthService, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase checks the connection and creates the account tables if asked to
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if d.Config.Database.InitSchema {
		if err := d.RepoFactory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.Logger.Info("database schema initialized")
	}
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Principals = repos.Principals
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initRegistry selects the Redis refresh registry when configured and the
// in-process one otherwise
func (d *Dependencies) initRegistry(ctx context.Context) error {
	if !d.Config.Redis.Enabled() {
		d.Logger.Warn("REDIS_ADDR not set, refresh tokens are tracked in memory")
		d.Registry = tokens.NewMemoryRegistry()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     d.Config.Redis.Addr,
		Password: d.Config.Redis.Password,
		DB:       d.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Registry = tokens.NewRedisRegistry(client)
	d.Logger.Info("redis refresh registry connected", zap.String("addr", d.Config.Redis.Addr))
	return nil
}

func (d *Dependencies) initAuth() error {
	cfg := d.Config.Auth

	tokenSvc, err := tokens.NewService(tokens.Options{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Issuer:        cfg.Issuer,
	})
	if err != nil {
		return err
	}
	d.Tokens = tokenSvc

	var metrics services.AuthMetrics
	if d.Metrics != nil {
		metrics = d.Metrics
	}

	d.AuthService = services.NewAuthService(services.AuthServiceConfig{
		Tokens:     tokenSvc,
		Registry:   d.Registry,
		Principals: d.Principals,
		TxManager:  d.TxManager,
		BcryptCost: cfg.BcryptCost,
		Metrics:    metrics,
		Logger:     d.Logger,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.AuthService, d.Logger)
	d.AuthHandler = auth.NewHandler(d.AuthService, auth.CookieOptions{
		Domain: cfg.CookieDomain,
		Secure: d.Config.IsProduction(),
		MaxAge: tokenSvc.RefreshTTL(),
	}, d.Logger)

	d.Logger.Info("auth initialized",
		zap.Duration("access_ttl", tokenSvc.AccessTTL()),
		zap.Duration("refresh_ttl", tokenSvc.RefreshTTL()))
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
