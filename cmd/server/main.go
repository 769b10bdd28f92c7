package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/api"
	"github.com/Harshitk-cp/canonkeeper/internal/buildconfig"
	"github.com/Harshitk-cp/canonkeeper/internal/config"
	"github.com/Harshitk-cp/canonkeeper/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	logger.Info("starting canonkeeper",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()))

	ctx := context.Background()
	opts := api.OptionsFromConfig()

	switch driver := config.StorageDriver(); driver {
	case config.StoragePostgres:
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres storage driver")
		}

		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")

		applied, err := store.Migrate(ctx, pool, config.MigrationsPath())
		if err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
		opts.Pool = pool

	case config.StorageBadger:
		db, err := store.OpenBadger(store.BadgerConfig{Path: config.BadgerPath(), SyncWrites: true})
		if err != nil {
			logger.Fatal("failed to open badger store", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close badger store", zap.Error(err))
			}
		}()
		opts.Badger = db

	case config.StorageMemory:
		logger.Warn("using in-memory storage, canon will not survive a restart")

	default:
		logger.Fatal("unknown storage driver", zap.String("driver", driver))
	}

	app := api.NewApp(opts, logger)

	loadCtx, cancelLoad := context.WithTimeout(ctx, 2*time.Minute)
	n, err := app.Load(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("failed to load canon", zap.Int("loaded", n), zap.Error(err))
	}

	if app.Reindex != nil {
		app.Reindex.Start()
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	if app.Reindex != nil {
		app.Reindex.Stop()
	}

	logger.Info("server stopped")
}
