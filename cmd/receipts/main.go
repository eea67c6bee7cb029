package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"receipts/internal/adapters"
	"receipts/internal/cache"
	"receipts/internal/cli"
	"receipts/internal/extraction"
	apphttp "receipts/internal/http"
	"receipts/internal/log"
	"receipts/internal/services"
)

const (
	categoryCacheTTL     = 10 * time.Minute
	cacheCleanupInterval = 5 * time.Minute
	shutdownTimeout      = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	app, err := cli.NewApp(context.Background(), cfg, cli.AppOptions{UseQueue: true})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Without a queue, pending receipts and exports are worked in process.
	var processor *services.ExtractionProcessor
	if app.Queue == nil {
		processor = services.NewExtractionProcessor(app.Repo, app.Receipts, app.Worker, services.ExtractionProcessorConfig{
			PollInterval: cfg.ProcessorPollInterval,
			BatchSize:    cfg.ProcessorBatchSize,
			Concurrency:  cfg.ProcessorConcurrency,
		})
	}

	categoryCache := cache.NewNamedLRUCache[[]string]("categories", 4, categoryCacheTTL)
	caches := cache.NewManager()
	caches.Register(categoryCache)
	caches.Register(app.RunCache)
	caches.StartCleanup(cacheCleanupInterval)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Ledger:    app.Ledger,
		Receipts:  app.Receipts,
		Imports:   app.Imports,
		Reconcile: app.Reconcile,
	}, apphttp.Options{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Pinger:             app.Repo,
		Categories:         adapters.NewLedgerCategories(app.Repo, app.Backend.Categories, extraction.Categories()),
		CategoryCache:      categoryCache,
		DefaultCategories:  extraction.Categories(),
		Caches:             []apphttp.StatsReporter{categoryCache, app.RunCache},
		Logger:             logger.WithComponent(log.ComponentHTTP),
	})

	ctx, cancel, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Error("Extraction processor shutdown error", "error", err)
			}
		}
		caches.Stop()
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start extraction processor", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Starting receipts server",
		"port", cfg.Port,
		"queue", app.Queue != nil,
		"export_backend", app.Backend.Type.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cancel()
		<-done
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
