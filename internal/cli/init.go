// Package cli provides the initialization shared by cmd/receipts,
// cmd/receipts-worker and cmd/receiptctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"receipts/internal/amqp"
	"receipts/internal/backend"
	"receipts/internal/cache"
	"receipts/internal/config"
	"receipts/internal/core"
	"receipts/internal/extraction"
	"receipts/internal/log"
	"receipts/internal/reconcile"
	"receipts/internal/services"
	"receipts/internal/storage"
	"receipts/internal/worker"
)

const (
	reconcileRunCacheSize = 64
	reconcileRunCacheTTL  = 30 * time.Minute
)

// SetupLogger builds a text logger at the configured level and installs it
// as the slog default. An unknown level falls back to info with a warning.
func SetupLogger(level, component string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.NewText(os.Stdout, lvl, component)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info log level", "error", err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// AppOptions controls which optional pieces NewApp connects.
type AppOptions struct {
	// UseQueue publishes jobs to AMQP when the config enables it.
	UseQueue bool
	// RequireQueue fails startup when AMQP is unavailable instead of
	// falling back to in-process work.
	RequireQueue bool
}

// App bundles the repository, services and job plumbing one binary needs.
type App struct {
	Config    *config.Config
	Repo      *storage.SQLiteRepository
	Backend   *backend.Result
	Pipeline  *extraction.Pipeline
	Queue     *amqp.Client
	Ledger    *services.LedgerService
	Receipts  *services.ReceiptService
	Imports   *services.ImportService
	Reconcile *services.ReconcileService
	Worker    *worker.JobWorker
	RunCache  *cache.LRUCache[reconcile.Run]

	closers []func() error
}

// NewApp wires storage, extraction, the export backend and the services.
// The caller owns the result and must call Close.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Repo, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.SQLiteDBPath, err)
	}
	app.closers = append(app.closers, app.Repo.Close)

	app.Pipeline, err = extraction.NewFromConfig(ctx, cfg.ExtractionConfig())
	if err != nil {
		return nil, fmt.Errorf("configure extraction: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	app.Backend, err = backend.New(ctx, backendCfg)
	if err != nil {
		return nil, err
	}
	if app.Backend.Cleanup != nil {
		app.closers = append(app.closers, app.Backend.Cleanup)
	}

	var publisher services.JobPublisher
	if opts.UseQueue && cfg.AMQPEnabled() {
		client, qerr := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		switch {
		case qerr == nil:
			app.Queue = client
			app.closers = append(app.closers, client.Close)
			publisher = client
		case opts.RequireQueue:
			return nil, fmt.Errorf("connect to AMQP: %w", qerr)
		default:
			// Rows stay pending and the in-process processor picks them up.
			slog.WarnContext(ctx, "AMQP unavailable, processing jobs in process", "error", qerr)
		}
	} else if opts.RequireQueue {
		return nil, errors.New("AMQP_URL is required")
	}

	app.RunCache = cache.NewNamedLRUCache[reconcile.Run]("reconcile_runs", reconcileRunCacheSize, reconcileRunCacheTTL)

	engine := reconcile.NewEngine(reconcile.Options{
		AmountTolerance: core.Money{Cents: int64(cfg.MatchAmountToleranceCents)},
		DateTolerance:   cfg.MatchDateTolerance,
	})

	app.Ledger = services.NewLedgerService(app.Repo, publisher, cfg.Exporting())
	app.Receipts = services.NewReceiptService(app.Repo, app.Pipeline, app.Ledger, publisher, services.ReceiptServiceConfig{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxAttempts:    int64(cfg.ExtractionAttempts),
	})
	app.Imports = services.NewImportService(app.Repo, nil, cfg.MaxUploadBytes)
	app.Reconcile = services.NewReconcileService(app.Repo, engine, app.RunCache)
	app.Worker = worker.NewJobWorker(app.Repo, app.Receipts, app.Backend.Writer, cfg.ProcessorBatchSize)

	slog.InfoContext(ctx, "Application initialized",
		"database", cfg.SQLiteDBPath,
		"extractors", app.Pipeline.Methods(),
		"export_backend", app.Backend.Type.String(),
		"queue", app.Queue != nil)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// GracefulShutdown returns a context cancelled on SIGINT, SIGTERM or a call
// to the returned cancel func. The cleanup function then runs once with a
// context bounded by timeout, and the returned channel closes when it has
// finished.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
	}()

	return ctx, cancel, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
