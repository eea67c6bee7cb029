package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"receipts/internal/amqp"
	"receipts/internal/core"
	"receipts/internal/services"
	"receipts/internal/sheets"
	"receipts/internal/storage"
)

const (
	DefaultBatchSize = 10
	// DefaultStaleAfter is how long a receipt may stay processing before
	// a scan returns it to pending.
	DefaultStaleAfter = 10 * time.Minute
)

// JobWorker executes queued jobs: receipt extraction and ledger export.
// The same methods back the AMQP consumer and the periodic database scans
// that recover jobs whose messages were lost.
type JobWorker struct {
	storage   *storage.SQLiteRepository
	receipts  *services.ReceiptService
	writer     sheets.LedgerWriter
	batchSize  int
	staleAfter time.Duration
}

// NewJobWorker creates a worker. writer may be nil when export is disabled.
func NewJobWorker(storage *storage.SQLiteRepository, receipts *services.ReceiptService, writer sheets.LedgerWriter, batchSize int) *JobWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &JobWorker{
		storage:    storage,
		receipts:   receipts,
		writer:     writer,
		batchSize:  batchSize,
		staleAfter: DefaultStaleAfter,
	}
}

// HandleMessage dispatches a job message. A nil return acks the message;
// errors are requeued by the consumer, so only transient failures are
// returned.
func (w *JobWorker) HandleMessage(ctx context.Context, msg *amqp.JobMessage) error {
	slog.InfoContext(ctx, "Processing job",
		"type", msg.Type,
		"id", msg.ID,
		"version", msg.Version)

	switch msg.Type {
	case amqp.JobExtractReceipt:
		return w.handleExtract(ctx, msg.ID)
	case amqp.JobExportLedger:
		return w.exportEntry(ctx, msg.ID, msg.Version)
	default:
		slog.WarnContext(ctx, "Dropping job of unknown type", "type", msg.Type, "id", msg.ID)
		return nil
	}
}

func (w *JobWorker) handleExtract(ctx context.Context, id int64) error {
	rc, err := w.receipts.Get(ctx, id)
	if err == nil && rc.Status == core.ReceiptExtracted {
		slog.InfoContext(ctx, "Receipt already extracted", "id", id)
		return nil
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("get receipt: %w", err)
	}

	_, err = w.receipts.ExtractReceipt(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotFound), errors.Is(err, services.ErrReceiptBusy):
		// Deleted or being handled elsewhere.
		slog.InfoContext(ctx, "Skipping receipt extraction", "id", id, "reason", err)
		return nil
	default:
		// The failure is recorded on the receipt and a retryable one left it
		// pending, so the periodic scan picks it up. Requeueing here would
		// bypass the attempt limit.
		slog.WarnContext(ctx, "Receipt extraction failed", "id", id, "error", err)
		return nil
	}
}

// exportEntry writes the current state of a ledger entry to the export
// backend. A job whose version is older than the stored entry is dropped
// because the edit that bumped the version queued its own job.
func (w *JobWorker) exportEntry(ctx context.Context, id, version int64) error {
	if w.writer == nil {
		slog.DebugContext(ctx, "Export disabled, skipping ledger entry", "id", id)
		return nil
	}

	entry, current, err := w.storage.GetLedgerEntryVersion(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		slog.InfoContext(ctx, "Ledger entry gone, skipping export", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get ledger entry: %w", err)
	}
	if version > 0 && version < current {
		slog.InfoContext(ctx, "Skipping stale export job",
			"id", id,
			"job_version", version,
			"current_version", current)
		return nil
	}
	if entry.ExportStatus == core.ExportExported || entry.ExportStatus == core.ExportSkipped {
		slog.DebugContext(ctx, "Ledger entry needs no export", "id", id, "status", entry.ExportStatus)
		return nil
	}

	ref, err := w.writer.Append(ctx, entry)
	if err != nil {
		if markErr := w.storage.MarkExportError(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}

	marked, err := w.storage.MarkExported(ctx, id, current, ref)
	if err != nil {
		// The row was written; a failed status update only means it may be
		// exported again.
		slog.ErrorContext(ctx, "Failed to mark ledger entry exported", "id", id, "error", err)
		return nil
	}
	if !marked {
		slog.InfoContext(ctx, "Ledger entry changed during export", "id", id, "version", current)
	}

	slog.InfoContext(ctx, "Ledger entry exported",
		"id", id,
		"version", current,
		"ref", ref,
		"amount_cents", entry.Amount.Cents)
	return nil
}

// ProcessPendingExports exports entries still marked pending. It is the
// backup path for lost or never-published export messages.
func (w *JobWorker) ProcessPendingExports(ctx context.Context) error {
	_, _, err := w.processPendingExports(ctx, w.batchSize)
	return err
}

func (w *JobWorker) processPendingExports(ctx context.Context, limit int) (int, int, error) {
	if w.writer == nil {
		return 0, 0, nil
	}
	pending, err := w.storage.GetPendingExports(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	var ok, failed int
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return ok, failed, err
		}
		if err := w.exportEntry(ctx, p.ID, p.Version); err != nil {
			slog.ErrorContext(ctx, "Failed to export ledger entry", "id", p.ID, "error", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}

// ResetStaleReceipts returns receipts left processing by a crashed worker
// to pending so the next scan extracts them.
func (w *JobWorker) ResetStaleReceipts(ctx context.Context) (int64, error) {
	n, err := w.storage.ResetStaleReceipts(ctx, w.staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset stale receipts", "count", n)
	}
	return n, nil
}

// ProcessPendingReceipts extracts receipts still waiting in the database,
// first resetting any stuck in processing.
func (w *JobWorker) ProcessPendingReceipts(ctx context.Context) error {
	if _, err := w.ResetStaleReceipts(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale receipts", "error", err)
	}
	_, _, err := w.processPendingReceipts(ctx, w.batchSize)
	return err
}

func (w *JobWorker) processPendingReceipts(ctx context.Context, limit int) (int, int, error) {
	pending, err := w.storage.GetPendingReceipts(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending receipts: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending receipts", "count", len(pending))

	var ok, failed int
	for _, rc := range pending {
		if err := ctx.Err(); err != nil {
			return ok, failed, err
		}
		if _, err := w.receipts.ExtractReceipt(ctx, rc.ID); err != nil {
			slog.WarnContext(ctx, "Failed to extract pending receipt", "id", rc.ID, "error", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}

// StartupCheck drains a larger batch of pending work when the worker starts,
// covering messages missed while it was down.
func (w *JobWorker) StartupCheck(ctx context.Context) error {
	limit := w.batchSize * 5

	reset, err := w.ResetStaleReceipts(ctx)
	if err != nil {
		return fmt.Errorf("startup stale reset: %w", err)
	}
	extracted, extractFailed, err := w.processPendingReceipts(ctx, limit)
	if err != nil {
		return fmt.Errorf("startup receipt check: %w", err)
	}
	exported, exportFailed, err := w.processPendingExports(ctx, limit)
	if err != nil {
		return fmt.Errorf("startup export check: %w", err)
	}

	slog.InfoContext(ctx, "Startup check completed",
		"receipts_reset", reset,
		"receipts_extracted", extracted,
		"receipts_failed", extractFailed,
		"entries_exported", exported,
		"exports_failed", exportFailed)
	return nil
}
