package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"receipts/internal/core"
	"receipts/internal/reconcile"

	_ "modernc.org/sqlite"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
	dateLayout      = "2006-01-02"

	minDate = "0000-01-01"
	maxDate = "9999-12-31"
)

const (
	itemMatch      = "match"
	itemLedgerOnly = "ledger_only"
	itemBankOnly   = "bank_only"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// PendingExport is the minimal data needed to queue a ledger export job.
type PendingExport struct {
	ID        int64
	Version   int64
	CreatedAt time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) timestamp() string {
	return formatTimestamp(r.now())
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ledger entries

func (r *SQLiteRepository) CreateLedgerEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if e.Source == "" {
		e.Source = core.SourceManual
	}
	if e.ExportStatus == "" {
		e.ExportStatus = core.ExportPending
	}
	row, err := r.queries.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
		Vendor:       e.Vendor,
		Category:     e.Category,
		Description:  e.Description,
		AmountCents:  e.Amount.Cents,
		EntryDate:    formatDate(e.Date),
		ReceiptID:    nullInt64(e.ReceiptID),
		Source:       e.Source,
		ExportStatus: e.ExportStatus,
		CreatedAt:    r.timestamp(),
	})
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("create ledger entry: %w", err)
	}

	slog.InfoContext(ctx, "Ledger entry saved to SQLite",
		"id", row.ID,
		"vendor", row.Vendor,
		"amount_cents", row.AmountCents,
		"date", row.EntryDate,
		"source", row.Source)

	return toLedgerEntry(row), nil
}

func (r *SQLiteRepository) GetLedgerEntry(ctx context.Context, id int64) (core.LedgerEntry, error) {
	row, err := r.queries.GetLedgerEntry(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get ledger entry %d: %w", id, notFound(err))
	}
	return toLedgerEntry(row), nil
}

// GetLedgerEntryVersion returns the entry together with its edit version.
func (r *SQLiteRepository) GetLedgerEntryVersion(ctx context.Context, id int64) (core.LedgerEntry, int64, error) {
	row, err := r.queries.GetLedgerEntry(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, 0, fmt.Errorf("get ledger entry %d: %w", id, notFound(err))
	}
	return toLedgerEntry(row), row.Version, nil
}

// UpdateLedgerEntry replaces the editable fields and queues the entry for
// export again.
func (r *SQLiteRepository) UpdateLedgerEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	row, err := r.queries.UpdateLedgerEntry(ctx, UpdateLedgerEntryParams{
		ID:          e.ID,
		Vendor:      e.Vendor,
		Category:    e.Category,
		Description: e.Description,
		AmountCents: e.Amount.Cents,
		EntryDate:   formatDate(e.Date),
		UpdatedAt:   r.timestamp(),
	})
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("update ledger entry %d: %w", e.ID, notFound(err))
	}
	return toLedgerEntry(row), nil
}

func (r *SQLiteRepository) DeleteLedgerEntry(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteLedgerEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete ledger entry %d: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Ledger entry deleted", "id", id)
	return nil
}

// ListLedgerEntries returns entries dated within [from, to] ordered by date.
// A zero bound is open.
func (r *SQLiteRepository) ListLedgerEntries(ctx context.Context, from, to time.Time) ([]core.LedgerEntry, error) {
	lo, hi := dateBounds(from, to)
	rows, err := r.queries.ListLedgerEntriesByRange(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	entries := make([]core.LedgerEntry, len(rows))
	for i, row := range rows {
		entries[i] = toLedgerEntry(row)
	}
	return entries, nil
}

// ListLedgerCategories returns the categories used in the ledger, most used
// first.
func (r *SQLiteRepository) ListLedgerCategories(ctx context.Context) ([]string, error) {
	rows, err := r.queries.ListLedgerCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger categories: %w", err)
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Category
	}
	return out, nil
}

// Ledger export

func (r *SQLiteRepository) GetPendingExports(ctx context.Context, limit int) ([]PendingExport, error) {
	rows, err := r.queries.GetPendingExports(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending exports: %w", err)
	}
	out := make([]PendingExport, len(rows))
	for i, row := range rows {
		out[i] = PendingExport{ID: row.ID, Version: row.Version, CreatedAt: parseTimestamp(row.CreatedAt)}
	}
	return out, nil
}

// MarkExported records a successful export of the given entry version. It
// reports false when the entry changed or disappeared in the meantime.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id, version int64, ref string) (bool, error) {
	n, err := r.queries.MarkLedgerExported(ctx, MarkLedgerExportedParams{
		ID:        id,
		Version:   version,
		ExportRef: ref,
		UpdatedAt: r.timestamp(),
	})
	if err != nil {
		return false, fmt.Errorf("mark ledger entry exported: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) MarkExportError(ctx context.Context, id int64, message string) error {
	if err := r.queries.MarkLedgerExportError(ctx, id, message, r.timestamp()); err != nil {
		return fmt.Errorf("mark ledger export error: %w", err)
	}
	slog.WarnContext(ctx, "Ledger entry marked with export error", "id", id)
	return nil
}

// Statements

// ImportStatement stores the transactions of one statement file in a single
// transaction. Rows whose reference already exists are skipped and counted
// as duplicates.
func (r *SQLiteRepository) ImportStatement(ctx context.Context, fileName, format string, txns []core.BankTransaction) (core.StatementImport, error) {
	imp := core.StatementImport{
		ID:        uuid.NewString(),
		FileName:  fileName,
		Format:    format,
		RowCount:  len(txns),
		CreatedAt: r.now(),
	}
	createdAt := formatTimestamp(imp.CreatedAt)

	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.CreateStatementImport(ctx, CreateStatementImportParams{
			ID:        imp.ID,
			FileName:  fileName,
			Format:    format,
			RowCount:  int64(len(txns)),
			CreatedAt: createdAt,
		}); err != nil {
			return fmt.Errorf("create statement import: %w", err)
		}
		for i, t := range txns {
			n, err := q.InsertBankTransaction(ctx, InsertBankTransactionParams{
				ImportID:    imp.ID,
				TxnDate:     formatDate(t.Date),
				Description: t.Description,
				AmountCents: t.Amount.Cents,
				TxnType:     t.Type,
				Reference:   t.Reference,
				CreatedAt:   createdAt,
			})
			if err != nil {
				return fmt.Errorf("insert bank transaction %d (%s): %w", i+1, t.Reference, err)
			}
			if n == 0 {
				imp.Duplicates++
			} else {
				imp.Inserted++
			}
		}
		if err := q.FinishStatementImport(ctx, imp.ID, int64(imp.Inserted), int64(imp.Duplicates)); err != nil {
			return fmt.Errorf("finish statement import: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.StatementImport{}, err
	}

	slog.InfoContext(ctx, "Statement imported",
		"import_id", imp.ID,
		"format", format,
		"rows", imp.RowCount,
		"inserted", imp.Inserted,
		"duplicates", imp.Duplicates)
	return imp, nil
}

func (r *SQLiteRepository) ListStatementImports(ctx context.Context, limit int) ([]core.StatementImport, error) {
	rows, err := r.queries.ListStatementImports(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list statement imports: %w", err)
	}
	out := make([]core.StatementImport, len(rows))
	for i, row := range rows {
		out[i] = core.StatementImport{
			ID:         row.ID,
			FileName:   row.FileName,
			Format:     row.Format,
			RowCount:   int(row.RowCount),
			Inserted:   int(row.Inserted),
			Duplicates: int(row.Duplicates),
			CreatedAt:  parseTimestamp(row.CreatedAt),
		}
	}
	return out, nil
}

// ListBankTransactions returns transactions dated within [from, to]. A zero
// bound is open.
func (r *SQLiteRepository) ListBankTransactions(ctx context.Context, from, to time.Time) ([]core.BankTransaction, error) {
	lo, hi := dateBounds(from, to)
	rows, err := r.queries.ListBankTransactionsByRange(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("list bank transactions: %w", err)
	}
	out := make([]core.BankTransaction, len(rows))
	for i, row := range rows {
		out[i] = core.BankTransaction{
			ID:          row.ID,
			ImportID:    row.ImportID,
			Date:        parseDate(row.TxnDate),
			Description: row.Description,
			Amount:      core.Money{Cents: row.AmountCents},
			Type:        row.TxnType,
			Reference:   row.Reference,
			CreatedAt:   parseTimestamp(row.CreatedAt),
		}
	}
	return out, nil
}

// Receipts

func (r *SQLiteRepository) CreateReceipt(ctx context.Context, rc core.Receipt) (core.Receipt, error) {
	row, err := r.queries.CreateReceipt(ctx, CreateReceiptParams{
		FileName:    rc.FileName,
		MimeType:    rc.MimeType,
		StoragePath: rc.StoragePath,
		RawText:     rc.Text,
		CreatedAt:   r.timestamp(),
	})
	if err != nil {
		return core.Receipt{}, fmt.Errorf("create receipt: %w", err)
	}
	slog.InfoContext(ctx, "Receipt saved to SQLite", "receipt_id", row.ID, "mime_type", row.MimeType)
	return toReceipt(row), nil
}

func (r *SQLiteRepository) GetReceipt(ctx context.Context, id int64) (core.Receipt, error) {
	row, err := r.queries.GetReceipt(ctx, id)
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt %d: %w", id, notFound(err))
	}
	return toReceipt(row), nil
}

func (r *SQLiteRepository) ListReceipts(ctx context.Context, limit int) ([]core.Receipt, error) {
	rows, err := r.queries.ListRecentReceipts(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return toReceipts(rows), nil
}

func (r *SQLiteRepository) GetPendingReceipts(ctx context.Context, limit int) ([]core.Receipt, error) {
	rows, err := r.queries.GetPendingReceipts(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending receipts: %w", err)
	}
	return toReceipts(rows), nil
}

// ClaimReceipt moves a receipt to processing and counts the attempt. It
// reports false when the receipt is already being processed.
func (r *SQLiteRepository) ClaimReceipt(ctx context.Context, id int64) (bool, error) {
	n, err := r.queries.ClaimReceipt(ctx, id, r.timestamp())
	if err != nil {
		return false, fmt.Errorf("claim receipt %d: %w", id, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) MarkReceiptExtracted(ctx context.Context, id, ledgerEntryID int64, method string, confidence float64, rawText string) error {
	err := r.queries.MarkReceiptExtracted(ctx, MarkReceiptExtractedParams{
		ID:            id,
		LedgerEntryID: ledgerEntryID,
		Method:        method,
		Confidence:    confidence,
		RawText:       rawText,
		UpdatedAt:     r.timestamp(),
	})
	if err != nil {
		return fmt.Errorf("mark receipt %d extracted: %w", id, err)
	}
	return nil
}

// MarkReceiptFailed records the error. With retry the receipt goes back to
// pending, otherwise it is marked failed.
func (r *SQLiteRepository) MarkReceiptFailed(ctx context.Context, id int64, message string, retry bool) error {
	status := string(core.ReceiptFailed)
	if retry {
		status = string(core.ReceiptPending)
	}
	if err := r.queries.MarkReceiptFailed(ctx, id, status, message, r.timestamp()); err != nil {
		return fmt.Errorf("mark receipt %d failed: %w", id, err)
	}
	return nil
}

// ResetStaleReceipts returns receipts stuck in processing for longer than
// olderThan to pending.
func (r *SQLiteRepository) ResetStaleReceipts(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := r.now()
	n, err := r.queries.ResetStaleReceipts(ctx, formatTimestamp(now), formatTimestamp(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("reset stale receipts: %w", err)
	}
	return n, nil
}

// Reconciliation runs

// SaveReconciliationRun stores the run summary and a snapshot of every match
// and leftover so the run can be shown later even if rows change.
func (r *SQLiteRepository) SaveReconciliationRun(ctx context.Context, run reconcile.Run) error {
	if run.Result == nil {
		return errors.New("save reconciliation run: missing result")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}
	s := run.Summary

	return r.inTx(ctx, func(q *Queries) error {
		if err := q.CreateReconciliationRun(ctx, ReconciliationRun{
			ID:                   run.ID,
			PeriodFrom:           run.From.String(),
			PeriodTo:             run.To.String(),
			AmountToleranceCents: run.Options.AmountTolerance.Cents,
			DateToleranceSeconds: int64(run.Options.DateTolerance / time.Second),
			LedgerCount:          int64(s.LedgerCount),
			BankCount:            int64(s.BankCount),
			Matched:              int64(s.Matched),
			LedgerOnly:           int64(s.LedgerOnly),
			BankOnly:             int64(s.BankOnly),
			MatchedCents:         s.MatchedAmount.Cents,
			LedgerOnlyCents:      s.LedgerOnlyAmount.Cents,
			BankOnlyCents:        s.BankOnlyAmount.Cents,
			MatchRate:            s.MatchRate,
			CreatedAt:            formatTimestamp(run.CreatedAt),
		}); err != nil {
			return fmt.Errorf("create reconciliation run: %w", err)
		}

		add := func(pos int, kind string, ledgerID, bankID int64, confidence float64, v any) error {
			snapshot, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %s snapshot: %w", kind, err)
			}
			return q.CreateReconciliationItem(ctx, ReconciliationItem{
				RunID:             run.ID,
				Position:          int64(pos),
				Kind:              kind,
				LedgerEntryID:     optionalID(ledgerID),
				BankTransactionID: optionalID(bankID),
				Confidence:        confidence,
				Snapshot:          string(snapshot),
			})
		}
		for i, m := range run.Result.Matches {
			if err := add(i, itemMatch, m.LedgerEntry.ID, m.BankTransaction.ID, m.Confidence, m); err != nil {
				return err
			}
		}
		for i, e := range run.Result.LedgerOnly {
			if err := add(i, itemLedgerOnly, e.ID, 0, 0, e); err != nil {
				return err
			}
		}
		for i, t := range run.Result.BankOnly {
			if err := add(i, itemBankOnly, 0, t.ID, 0, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) GetReconciliationRun(ctx context.Context, id string) (reconcile.Run, error) {
	row, err := r.queries.GetReconciliationRun(ctx, id)
	if err != nil {
		return reconcile.Run{}, fmt.Errorf("get reconciliation run %s: %w", id, notFound(err))
	}
	items, err := r.queries.ListReconciliationItems(ctx, id)
	if err != nil {
		return reconcile.Run{}, fmt.Errorf("list reconciliation items: %w", err)
	}

	run := toRun(row)
	result := &reconcile.Result{
		Matches:    []reconcile.Match{},
		LedgerOnly: []core.LedgerEntry{},
		BankOnly:   []core.BankTransaction{},
		Summary:    run.Summary,
	}
	for _, item := range items {
		var err error
		switch item.Kind {
		case itemMatch:
			var m reconcile.Match
			if err = json.Unmarshal([]byte(item.Snapshot), &m); err == nil {
				result.Matches = append(result.Matches, m)
			}
		case itemLedgerOnly:
			var e core.LedgerEntry
			if err = json.Unmarshal([]byte(item.Snapshot), &e); err == nil {
				result.LedgerOnly = append(result.LedgerOnly, e)
			}
		case itemBankOnly:
			var t core.BankTransaction
			if err = json.Unmarshal([]byte(item.Snapshot), &t); err == nil {
				result.BankOnly = append(result.BankOnly, t)
			}
		}
		if err != nil {
			return reconcile.Run{}, fmt.Errorf("decode %s snapshot %d: %w", item.Kind, item.ID, err)
		}
	}
	run.Result = result
	return run, nil
}

// ListReconciliationRuns returns run summaries, newest first.
func (r *SQLiteRepository) ListReconciliationRuns(ctx context.Context, limit int) ([]reconcile.Run, error) {
	rows, err := r.queries.ListReconciliationRuns(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list reconciliation runs: %w", err)
	}
	runs := make([]reconcile.Run, len(rows))
	for i, row := range rows {
		runs[i] = toRun(row)
	}
	return runs, nil
}
