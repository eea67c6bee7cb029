package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"receipts/internal/core"
	"receipts/internal/storage"
)

// ExtractionProcessorConfig holds configuration for the extraction processor
type ExtractionProcessorConfig struct {
	// PollInterval is how often to check for pending receipts (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of receipts picked up per poll cycle (default: 10)
	BatchSize int

	// Concurrency bounds parallel extractions within a batch (default: 4)
	Concurrency int

	// StaleCheckInterval is how often stuck receipts are looked for (default: 1h)
	StaleCheckInterval time.Duration

	// StaleAfter is how long a receipt may stay processing before it is reset (default: 10m)
	StaleAfter time.Duration
}

func DefaultExtractionProcessorConfig() ExtractionProcessorConfig {
	return ExtractionProcessorConfig{
		PollInterval:       10 * time.Second,
		BatchSize:          10,
		Concurrency:        4,
		StaleCheckInterval: time.Hour,
		StaleAfter:         10 * time.Minute,
	}
}

// PendingExporter drains queued ledger exports. *worker.JobWorker satisfies it.
type PendingExporter interface {
	ProcessPendingExports(ctx context.Context) error
}

// ExtractionProcessor polls SQLite for pending receipts and extracts them in
// process. The server runs it when no job queue is configured.
type ExtractionProcessor struct {
	storage  *storage.SQLiteRepository
	receipts *ReceiptService
	exporter PendingExporter
	config   ExtractionProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewExtractionProcessor creates the processor. exporter may be nil.
func NewExtractionProcessor(
	storage *storage.SQLiteRepository,
	receipts *ReceiptService,
	exporter PendingExporter,
	config ExtractionProcessorConfig,
) *ExtractionProcessor {
	defaults := DefaultExtractionProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.StaleCheckInterval <= 0 {
		config.StaleCheckInterval = defaults.StaleCheckInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	return &ExtractionProcessor{
		storage:  storage,
		receipts: receipts,
		exporter: exporter,
		config:   config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ExtractionProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("extraction processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Receipts left processing by a crash would never be picked up again.
	p.resetStale(ctx)

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Extraction processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *ExtractionProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Extraction processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Extraction processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ExtractionProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExtractionProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	staleTicker := time.NewTicker(p.config.StaleCheckInterval)
	defer staleTicker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.tick(ctx)
		case <-staleTicker.C:
			p.resetStale(ctx)
		}
	}
}

func (p *ExtractionProcessor) tick(ctx context.Context) {
	if _, err := p.ProcessBatch(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to process receipt batch", "error", err)
	}
	if p.exporter != nil {
		if err := p.exporter.ProcessPendingExports(ctx); err != nil {
			slog.ErrorContext(ctx, "Failed to process pending exports", "error", err)
		}
	}
}

// ProcessBatch extracts up to BatchSize pending receipts concurrently and
// returns how many succeeded. Individual failures are recorded on the
// receipt and do not fail the batch.
func (p *ExtractionProcessor) ProcessBatch(ctx context.Context) (int, error) {
	pending, err := p.storage.GetPendingReceipts(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending receipts: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.DebugContext(ctx, "Processing receipt batch", "count", len(pending))

	var (
		mu        sync.Mutex
		succeeded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, rc := range pending {
		if p.stopping() {
			break
		}
		g.Go(func() error {
			if _, err := p.receipts.ExtractReceipt(gctx, rc.ID); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if !errors.Is(err, ErrReceiptBusy) && !errors.Is(err, core.ErrNotFound) {
					slog.WarnContext(gctx, "Receipt left for retry or marked failed",
						"receipt_id", rc.ID,
						"error", err)
				}
				return nil
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return succeeded, err
	}
	return succeeded, nil
}

func (p *ExtractionProcessor) stopping() bool {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (p *ExtractionProcessor) resetStale(ctx context.Context) {
	n, err := p.storage.ResetStaleReceipts(ctx, p.config.StaleAfter)
	if err != nil {
		slog.WarnContext(ctx, "Failed to reset stale receipts", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset stale receipts", "count", n)
	}
}
