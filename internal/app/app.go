// Package app assembles the engine and its collaborators from a loaded
// configuration. All three binaries share this wiring and differ only in the
// store they open and the surface they serve.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/cache"
	"github.com/meditrek-engine/internal/catalog"
	"github.com/meditrek-engine/internal/database"
	"github.com/meditrek-engine/internal/domain"
	"github.com/meditrek-engine/internal/notify"
	"github.com/meditrek-engine/internal/predictor"
	"github.com/meditrek-engine/internal/repository"
	"github.com/meditrek-engine/internal/scheduler"
	"github.com/meditrek-engine/internal/service"
)

// App holds the wired engine and the background sweep.
type App struct {
	Config  *domain.Config
	Catalog *catalog.Catalog
	Engine  *service.Engine
	Sweeper *scheduler.Sweeper
	// Runner is nil when the sweep is disabled.
	Runner *scheduler.Runner
	// Hub is nil unless the WebSocket channel is enabled.
	Hub *notify.Hub

	store   domain.Store
	redis   *cache.RedisCache
	logger  *logrus.Logger
	started bool
}

// Option adjusts how New wires the application.
type Option func(*options)

type options struct {
	clock      domain.Clock
	catalogDSN string
}

// WithClock replaces the system clock, for tests.
func WithClock(c domain.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCatalogDSN sets the database used by the postgres catalog source when
// the catalog section names none.
func WithCatalogDSN(dsn string) Option {
	return func(o *options) { o.catalogDSN = dsn }
}

// New wires an App around store. The store is owned by the App from here on
// and is closed by Close, also when New fails.
func New(ctx context.Context, cfg *domain.Config, store domain.Store, logger *logrus.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	o := options{clock: domain.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, store: store, logger: logger}
	if err := a.wire(ctx, o); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.Config

	dsn := cfg.Catalog.DSN
	if dsn == "" {
		dsn = o.catalogDSN
	}
	cat, err := LoadCatalog(ctx, cfg.Catalog, dsn)
	if err != nil {
		return fmt.Errorf("failed to load interaction catalog: %w", err)
	}
	a.Catalog = cat
	a.logger.WithFields(logrus.Fields{
		"source":    sourceName(cfg.Catalog.Source),
		"medicines": cat.MedicineCount(),
		"rules":     cat.RuleCount(),
	}).Info("Interaction catalog loaded")

	engineCfg, err := service.EngineConfigFromDomain(cfg.Engine, cfg.Predictor)
	if err != nil {
		return err
	}

	engineOpts := []service.Option{service.WithClock(o.clock)}

	adherenceCache, err := a.newCache()
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, service.WithCache(adherenceCache))

	if cfg.Predictor.Enabled {
		p, err := predictor.NewHTTPPredictor(predictor.ConfigFromDomain(cfg.Predictor), a.logger)
		if err != nil {
			return fmt.Errorf("failed to create severity predictor: %w", err)
		}
		engineOpts = append(engineOpts, service.WithPredictor(p))
		a.logger.WithField("base_url", cfg.Predictor.BaseURL).Info("Severity predictor enabled")
	}

	a.Engine = service.NewEngine(a.store, cat, engineCfg, a.logger, engineOpts...)

	if cfg.Notify.WebSocket {
		a.Hub = notify.NewHub(a.logger)
	}
	channels := notify.FromConfig(cfg.Notify, a.Hub, a.logger)
	if len(channels) == 0 {
		a.logger.Warn("No reminder delivery channel configured; reminders are dropped")
	}

	a.Sweeper = scheduler.NewSweeper(a.Engine, channels, o.clock, scheduler.ConfigFromDomain(cfg.Sweep), a.logger)
	if cfg.Sweep.Enabled {
		a.Runner = scheduler.NewRunner(a.Sweeper, cfg.Sweep.Spec, a.Engine.Location(), a.logger)
	}
	return nil
}

func (a *App) newCache() (domain.AdherenceCache, error) {
	cfg := a.Config.Cache
	if cfg.RedisURL == "" {
		return cache.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL), nil
	}
	rc, err := cache.NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect adherence cache: %w", err)
	}
	a.redis = rc
	a.logger.Info("Using Redis adherence cache")
	return rc, nil
}

// LoadCatalog builds the interaction catalog from the configured source.
// dsn is only used by the postgres source.
func LoadCatalog(ctx context.Context, cfg domain.CatalogConfig, dsn string) (*catalog.Catalog, error) {
	switch cfg.Source {
	case "", "embedded":
		return catalog.Default()
	case "file":
		return catalog.LoadFile(cfg.Path)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("catalog dsn is required for the postgres source")
		}
		src, err := catalog.NewPostgresSourceFromURL(dsn)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return src.Load(ctx)
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
}

func sourceName(s string) string {
	if s == "" {
		return "embedded"
	}
	return s
}

// OpenPostgresStore connects to the configured database, applies pending
// migrations and returns the store. Closing the store closes the pool.
func OpenPostgresStore(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (*repository.PostgresStore, error) {
	dbCfg := database.ConfigFromDomain(cfg)

	var (
		runner *database.MigrationRunner
		err    error
	)
	if cfg.MigrationsPath != "" {
		runner, err = database.NewMigrationRunnerFromPath(dbCfg.URL(), cfg.MigrationsPath, logger)
	} else {
		runner, err = database.NewMigrationRunner(dbCfg.URL(), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration runner: %w", err)
	}
	if err := runner.Up(); err != nil {
		runner.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := runner.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close migration runner")
	}

	db, err := database.NewConnection(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(db.Pool, logger), nil
}

// ReadinessChecks returns the dependency checks served at /ready.
func (a *App) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"store": a.Engine.Health,
	}
	if a.redis != nil {
		checks["cache"] = a.redis.Ping
	}
	return checks
}

// Start starts the background sweep, if enabled.
func (a *App) Start() error {
	if a.Runner == nil {
		a.logger.Info("Reminder sweep disabled")
		return nil
	}
	if err := a.Runner.Start(); err != nil {
		return err
	}
	a.started = true
	return nil
}

// Close stops the sweep, waiting for in-flight deliveries until ctx expires,
// and releases the store and the cache.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.started {
		if err := a.Runner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.started = false
	} else if a.Sweeper != nil {
		a.Sweeper.Wait()
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
		a.redis = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
		a.store = nil
	}
	return errors.Join(errs...)
}
