// Package services orchestrates the domain packages, the SQLite repository
// and the job queue.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"receipts/internal/core"
	"receipts/internal/storage"
)

// JobPublisher queues background work. *amqp.Client satisfies it.
type JobPublisher interface {
	PublishExtractReceipt(ctx context.Context, receiptID int64) error
	PublishExportLedger(ctx context.Context, entryID, version int64) error
}

// LedgerService saves ledger entries locally first and then queues the
// export. A queue failure never fails the request; the worker's startup and
// periodic scans pick up entries whose message was lost.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher JobPublisher
	exporting bool
}

// NewLedgerService creates the service. With exporting false new entries are
// stored with export status skipped.
func NewLedgerService(storage *storage.SQLiteRepository, publisher JobPublisher, exporting bool) *LedgerService {
	return &LedgerService{
		storage:   storage,
		publisher: publisher,
		exporting: exporting,
	}
}

func (s *LedgerService) Create(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	if e.Source == "" {
		e.Source = core.SourceManual
	}
	e.ExportStatus = core.ExportPending
	if !s.exporting {
		e.ExportStatus = core.ExportSkipped
	}

	saved, err := s.storage.CreateLedgerEntry(ctx, e)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save ledger entry: %w", err)
	}

	s.publishExport(ctx, saved.ID, 1)
	return saved, nil
}

func (s *LedgerService) Get(ctx context.Context, id int64) (core.LedgerEntry, error) {
	return s.storage.GetLedgerEntry(ctx, id)
}

func (s *LedgerService) Update(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	updated, err := s.storage.UpdateLedgerEntry(ctx, e)
	if err != nil {
		return core.LedgerEntry{}, err
	}

	if s.exporting {
		_, version, err := s.storage.GetLedgerEntryVersion(ctx, updated.ID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read ledger entry version", "id", updated.ID, "error", err)
		} else {
			s.publishExport(ctx, updated.ID, version)
		}
	}
	return updated, nil
}

// Delete removes the entry locally. Rows already exported stay in the sheet.
func (s *LedgerService) Delete(ctx context.Context, id int64) error {
	return s.storage.DeleteLedgerEntry(ctx, id)
}

func (s *LedgerService) List(ctx context.Context, from, to time.Time) ([]core.LedgerEntry, error) {
	return s.storage.ListLedgerEntries(ctx, from, to)
}

func (s *LedgerService) Summary(ctx context.Context, from, to time.Time) (core.LedgerSummary, error) {
	entries, err := s.storage.ListLedgerEntries(ctx, from, to)
	if err != nil {
		return core.LedgerSummary{}, err
	}
	return core.Summarize(entries, from, to), nil
}

func (s *LedgerService) publishExport(ctx context.Context, id, version int64) {
	if !s.exporting {
		return
	}
	if s.publisher == nil {
		slog.DebugContext(ctx, "No job queue, export left for the background scan", "id", id)
		return
	}
	if err := s.publisher.PublishExportLedger(ctx, id, version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish export message",
			"id", id,
			"version", version,
			"error", err)
	}
}
