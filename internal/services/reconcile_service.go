package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receipts/internal/cache"
	"receipts/internal/core"
	"receipts/internal/reconcile"
	"receipts/internal/storage"
)

// ReconcileService runs and stores reconciliations. Stored runs are
// immutable, so loaded runs are cached by id.
type ReconcileService struct {
	storage *storage.SQLiteRepository
	engine  *reconcile.Engine
	runs    cache.Cache[reconcile.Run]
	now     func() time.Time
}

// NewReconcileService creates the service. runs may be nil to disable caching.
func NewReconcileService(storage *storage.SQLiteRepository, engine *reconcile.Engine, runs cache.Cache[reconcile.Run]) *ReconcileService {
	if engine == nil {
		engine = reconcile.NewEngine(reconcile.DefaultOptions())
	}
	return &ReconcileService{
		storage: storage,
		engine:  engine,
		runs:    runs,
		now:     time.Now,
	}
}

// Reconcile matches ledger entries dated in [from, to] against bank
// transactions in the same range widened by the date tolerance, so entries
// near the edges can still find their bank row. Zero bounds are open.
func (s *ReconcileService) Reconcile(ctx context.Context, from, to core.Date) (reconcile.Run, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from.Time) {
		return reconcile.Run{}, fmt.Errorf("range %s..%s: %w", from, to, core.ErrInvalidDate)
	}

	ledger, err := s.storage.ListLedgerEntries(ctx, from.Time, to.Time)
	if err != nil {
		return reconcile.Run{}, err
	}

	opts := s.engine.Options()
	bankFrom, bankTo := from.Time, to.Time
	if !bankFrom.IsZero() {
		bankFrom = bankFrom.Add(-opts.DateTolerance)
	}
	if !bankTo.IsZero() {
		bankTo = bankTo.Add(opts.DateTolerance)
	}
	bank, err := s.storage.ListBankTransactions(ctx, bankFrom, bankTo)
	if err != nil {
		return reconcile.Run{}, err
	}

	start := time.Now()
	// Bank rows loaded only for the padding belong to neighbouring runs.
	result := s.engine.Reconcile(ledger, bank).WithinRange(from.Time, to.Time)

	run := reconcile.Run{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Options:   opts,
		Summary:   result.Summary,
		CreatedAt: s.now().UTC(),
		Result:    &result,
	}
	if err := s.storage.SaveReconciliationRun(ctx, run); err != nil {
		return reconcile.Run{}, fmt.Errorf("save reconciliation run: %w", err)
	}
	if s.runs != nil {
		s.runs.Set(run.ID, run)
	}

	slog.InfoContext(ctx, "Reconciliation completed",
		"run_id", run.ID,
		"from", from.String(),
		"to", to.String(),
		"ledger_count", result.Summary.LedgerCount,
		"bank_count", result.Summary.BankCount,
		"matched", result.Summary.Matched,
		"ledger_only", result.Summary.LedgerOnly,
		"bank_only", result.Summary.BankOnly,
		"duration", time.Since(start))
	return run, nil
}

func (s *ReconcileService) GetRun(ctx context.Context, id string) (reconcile.Run, error) {
	if s.runs != nil {
		if run, ok := s.runs.Get(id); ok {
			slog.DebugContext(ctx, "Reconciliation run cache hit", "run_id", id)
			return run, nil
		}
	}
	run, err := s.storage.GetReconciliationRun(ctx, id)
	if err != nil {
		return reconcile.Run{}, err
	}
	if s.runs != nil {
		s.runs.Set(id, run)
	}
	return run, nil
}

func (s *ReconcileService) ListRuns(ctx context.Context, limit int) ([]reconcile.Run, error) {
	return s.storage.ListReconciliationRuns(ctx, limit)
}
