package setup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robalyx/answervote/internal/database"
	"github.com/robalyx/answervote/internal/database/migrations"
	"github.com/robalyx/answervote/internal/redis"
	"github.com/robalyx/answervote/internal/setup/config"
	"github.com/robalyx/answervote/internal/setup/telemetry"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	// ErrPostgresRequired is returned when a command needs the Postgres backend.
	ErrPostgresRequired = errors.New("postgres backend is required")
	// ErrMigrationsPending is returned when the operator declines pending migrations.
	ErrMigrationsPending = errors.New("database migrations are pending")
)

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config     // Application configuration
	Logger       *zap.Logger        // Main application logger
	DBLogger     *zap.Logger        // Database-specific logger
	DB           database.Client    // Database connection pool, nil for the memory backend
	RedisManager *redis.Manager     // Redis connection manager
	LogManager   *telemetry.Manager // Log management system
	Aggregator   *vote.Aggregator   // Vote aggregator over the configured backend
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, &cfg.Common.Telemetry)
	logManager.StartTracing()

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		_ = logManager.Stop(ctx)
		return nil, err
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		RedisManager: redis.NewManager(&cfg.Common.Redis, logger),
		LogManager:   logManager,
	}

	// The db binary manages migrations itself
	if cfg.Common.Vote.Backend == config.BackendPostgres {
		if serviceType == telemetry.ServiceDB {
			app.DB, err = database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger, false)
		} else {
			app.DB, err = checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, dbLogger)
		}
		if err != nil {
			app.Cleanup(ctx)
			return nil, err
		}
	}

	app.Aggregator, err = app.newAggregator()
	if err != nil {
		app.Cleanup(ctx)
		return nil, err
	}

	logger.Info("Initialized vote aggregator",
		zap.String("backend", cfg.Common.Vote.Backend),
		zap.String("locker", cfg.Common.Vote.Locker))

	return app, nil
}

// newAggregator builds the vote aggregator for the configured backend and locker.
func (s *App) newAggregator() (*vote.Aggregator, error) {
	voteCfg := &s.Config.Common.Vote
	opts := []vote.Option{vote.WithCommitTimeout(voteCfg.CommitTimeout())}

	if voteCfg.Locker == config.LockerRedis {
		client, err := s.RedisManager.GetClient(redis.LockDBIndex)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vote.WithLocker(
			redis.NewLocker(client, voteCfg.LockTTL(), voteCfg.LockWait(), s.Logger),
		))
	}

	if s.DB == nil {
		return vote.NewAggregator(vote.NewMemoryCounters(), vote.NewMemoryLedger(), s.Logger, opts...), nil
	}

	svc := s.DB.Service().Vote()
	stores := svc.Stores()
	opts = append(opts, vote.WithTransactor(svc))

	return vote.NewAggregator(stores.Counters, stores.Ledger, s.Logger, opts...), nil
}

// Reconciler returns a reconciler over the app's aggregator. A non-positive
// workers count uses the configured one.
func (s *App) Reconciler(repair bool, workers int) *vote.Reconciler {
	if workers <= 0 {
		workers = s.Config.Common.Reconcile.Workers
	}
	return vote.NewReconciler(s.Aggregator, workers, repair, s.Logger)
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Close database connections
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Printf("Failed to close database connection: %v", err)
		}
	}

	// Close Redis connections after the database as pending votes may still hold locks
	s.RedisManager.Close()

	// Sync buffered logs before shutdown
	_ = s.Logger.Sync()
	_ = s.DBLogger.Sync()

	// Flush spans and close session log files
	if err := s.LogManager.Stop(ctx); err != nil {
		log.Printf("Failed to stop telemetry: %v", err)
	}
}

// checkAndRunMigrations runs database migrations if needed.
func checkAndRunMigrations(ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger) (database.Client, error) {
	tempDB, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(tempDB.DB(), migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return tempDB, nil
	}

	log.Println("Database migrations are pending. Would you like to run them now? (y/N)")

	var response string

	_, _ = fmt.Scanln(&response)

	if response != "y" && response != "Y" {
		tempDB.Close()
		return nil, fmt.Errorf("%w: %d pending", ErrMigrationsPending, len(unapplied))
	}

	tempDB.Close()

	return database.NewConnection(ctx, cfg, dbLogger, true)
}
