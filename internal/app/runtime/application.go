// Package runtime wires the workflow application from configuration and runs
// its HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/training_workflow/internal/app"
	"github.com/R3E-Network/training_workflow/internal/app/httpapi"
	contentsvc "github.com/R3E-Network/training_workflow/internal/app/services/content"
	monitorsvc "github.com/R3E-Network/training_workflow/internal/app/services/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/storage/postgres"
	"github.com/R3E-Network/training_workflow/internal/app/storage/rediscache"
	"github.com/R3E-Network/training_workflow/internal/config"
	"github.com/R3E-Network/training_workflow/internal/middleware"
	"github.com/R3E-Network/training_workflow/internal/platform/migrations"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const limiterCleanupInterval = time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	api     *httpapi.API
	limiter *middleware.RateLimiter
	server  *http.Server
	db      *sqlx.DB
	redis   *redis.Client
}

// NewApplication builds the application described by cfg. Without a
// database DSN the in-memory store is used; without a Redis address verdicts
// are not cached.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.New(cfg.Logging.Logger())
	}
	a := &Application{cfg: cfg, log: log}

	var stores app.Stores
	if cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db.DB); err != nil {
				a.closeClients()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		store := postgres.New(db)
		stores = app.Stores{
			Sessions:  store,
			Snapshots: store,
			Conflicts: store,
			Statuses:  store,
			Contents:  store,
			Attempts:  store,
		}
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory store")
	}

	policy, err := config.LoadPolicy(cfg.Readiness.PolicyPath)
	if err != nil {
		a.closeClients()
		return nil, err
	}
	opts := app.Options{
		Policy: &policy,
		Thresholds: monitorsvc.Thresholds{
			Window:        cfg.Monitor.Window,
			DegradedRate:  cfg.Monitor.DegradedRate,
			UnhealthyRate: cfg.Monitor.UnhealthyRate,
		},
		Automation: app.AutomationOptions{
			Enabled:  cfg.Automation.Enabled,
			Schedule: cfg.Automation.Schedule,
		},
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			a.closeClients()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		opts.VerdictCache = rediscache.New(client, cfg.Redis.VerdictTTL)
	}

	if cfg.Content.APIKey != "" {
		generator, err := contentsvc.NewChatGeneratorFromKey(cfg.Content.APIKey, cfg.Content.BaseURL, cfg.Content.Model)
		if err != nil {
			a.closeClients()
			return nil, fmt.Errorf("configure content generator: %w", err)
		}
		opts.Generator = generator
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		a.closeClients()
		return nil, err
	}
	a.app = application

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log.Named("ratelimit"))
	api, err := httpapi.New(application, httpapi.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		JWTIssuer:    cfg.Auth.Issuer,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Limiter:      a.limiter,
		AuditLogPath: cfg.Server.AuditLogPath,
		AuditSize:    cfg.Server.AuditSize,
	}, log.Named("http"))
	if err != nil {
		a.closeClients()
		return nil, fmt.Errorf("configure http api: %w", err)
	}
	a.api = api
	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set; trusting the " + middleware.ActorHeader + " header")
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// App exposes the composed workflow services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler returns the HTTP handler served by Run.
func (a *Application) Handler() http.Handler {
	return a.api
}

// Run starts the background services and the HTTP server and blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.limiter.StartCleanup(ctx, limiterCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then the services, then closes clients.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.api.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit log")
	}
	a.closeClients()
	return errors.Join(errs...)
}

func (a *Application) closeClients() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

// Migrate applies (or, with down, reverts) the schema of the configured
// database.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, down bool) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if down {
		return migrations.Rollback(ctx, db.DB)
	}
	return migrations.Apply(ctx, db.DB)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
