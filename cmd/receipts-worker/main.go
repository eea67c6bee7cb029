package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"receipts/internal/cli"
	"receipts/internal/log"
	"receipts/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting receipts-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	app, err := cli.NewApp(context.Background(), cfg, cli.AppOptions{UseQueue: true, RequireQueue: true})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel, done := cli.GracefulShutdown(logger, shutdownTimeout, nil)
	defer cancel()

	// Cover messages lost while the worker was down.
	logger.Info("Performing startup check...")
	if err := app.Worker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup check", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Queue.Consume(gctx, app.Worker.HandleMessage)
	})
	g.Go(func() error {
		scanPending(gctx, logger, app.Worker, cfg.WorkerScanInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		cancel()
		<-done
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

// scanPending periodically picks up receipts and exports whose messages
// were never published or were dropped. Receipts left processing by a
// crashed worker are reset before each receipt scan.
func scanPending(ctx context.Context, logger *log.Logger, w *worker.JobWorker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessPendingReceipts(ctx); err != nil {
				logger.Error("Periodic receipt scan failed", "error", err)
			}
			if err := w.ProcessPendingExports(ctx); err != nil {
				logger.Error("Periodic export scan failed", "error", err)
			}
		}
	}
}
