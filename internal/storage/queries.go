package storage

import (
	"context"
	"database/sql"
)

const ledgerColumns = `id, vendor, category, description, amount_cents, entry_date, receipt_id, source,
       export_status, export_ref, export_error, version, created_at, updated_at`

func scanLedgerEntry(row interface{ Scan(...any) error }) (LedgerEntry, error) {
	var i LedgerEntry
	err := row.Scan(
		&i.ID,
		&i.Vendor,
		&i.Category,
		&i.Description,
		&i.AmountCents,
		&i.EntryDate,
		&i.ReceiptID,
		&i.Source,
		&i.ExportStatus,
		&i.ExportRef,
		&i.ExportError,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createLedgerEntry = `
INSERT INTO ledger_entries (vendor, category, description, amount_cents, entry_date, receipt_id, source, export_status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + ledgerColumns

type CreateLedgerEntryParams struct {
	Vendor       string
	Category     string
	Description  string
	AmountCents  int64
	EntryDate    string
	ReceiptID    sql.NullInt64
	Source       string
	ExportStatus string
	CreatedAt    string
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) (LedgerEntry, error) {
	row := q.db.QueryRowContext(ctx, createLedgerEntry,
		arg.Vendor,
		arg.Category,
		arg.Description,
		arg.AmountCents,
		arg.EntryDate,
		arg.ReceiptID,
		arg.Source,
		arg.ExportStatus,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return scanLedgerEntry(row)
}

const getLedgerEntry = `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = ?`

func (q *Queries) GetLedgerEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRowContext(ctx, getLedgerEntry, id))
}

const updateLedgerEntry = `
UPDATE ledger_entries
SET vendor = ?, category = ?, description = ?, amount_cents = ?, entry_date = ?,
    export_status = CASE WHEN export_status = 'skipped' THEN 'skipped' ELSE 'pending' END,
    export_error = '', version = version + 1, updated_at = ?
WHERE id = ?
RETURNING ` + ledgerColumns

type UpdateLedgerEntryParams struct {
	ID          int64
	Vendor      string
	Category    string
	Description string
	AmountCents int64
	EntryDate   string
	UpdatedAt   string
}

func (q *Queries) UpdateLedgerEntry(ctx context.Context, arg UpdateLedgerEntryParams) (LedgerEntry, error) {
	row := q.db.QueryRowContext(ctx, updateLedgerEntry,
		arg.Vendor,
		arg.Category,
		arg.Description,
		arg.AmountCents,
		arg.EntryDate,
		arg.UpdatedAt,
		arg.ID,
	)
	return scanLedgerEntry(row)
}

const deleteLedgerEntry = `DELETE FROM ledger_entries WHERE id = ?`

func (q *Queries) DeleteLedgerEntry(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteLedgerEntry, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listLedgerEntriesByRange = `
SELECT ` + ledgerColumns + `
FROM ledger_entries
WHERE entry_date >= ? AND entry_date <= ?
ORDER BY entry_date, id`

func (q *Queries) ListLedgerEntriesByRange(ctx context.Context, from, to string) ([]LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, listLedgerEntriesByRange, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntry
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getPendingExports = `
SELECT id, version, created_at
FROM ledger_entries
WHERE export_status = 'pending'
ORDER BY created_at, id
LIMIT ?`

type GetPendingExportsRow struct {
	ID        int64
	Version   int64
	CreatedAt string
}

func (q *Queries) GetPendingExports(ctx context.Context, limit int64) ([]GetPendingExportsRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingExports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetPendingExportsRow
	for rows.Next() {
		var i GetPendingExportsRow
		if err := rows.Scan(&i.ID, &i.Version, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markLedgerExported = `
UPDATE ledger_entries
SET export_status = 'exported', export_ref = ?, export_error = '', updated_at = ?
WHERE id = ? AND version = ?`

type MarkLedgerExportedParams struct {
	ID        int64
	Version   int64
	ExportRef string
	UpdatedAt string
}

// MarkLedgerExported only applies when the entry was not edited since the
// export started; the returned count is zero otherwise.
func (q *Queries) MarkLedgerExported(ctx context.Context, arg MarkLedgerExportedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markLedgerExported, arg.ExportRef, arg.UpdatedAt, arg.ID, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markLedgerExportError = `
UPDATE ledger_entries
SET export_status = 'error', export_error = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) MarkLedgerExportError(ctx context.Context, id int64, message, updatedAt string) error {
	_, err := q.db.ExecContext(ctx, markLedgerExportError, message, updatedAt, id)
	return err
}

const listLedgerCategories = `
SELECT category, COUNT(*) AS uses
FROM ledger_entries
WHERE category <> ''
GROUP BY category
ORDER BY uses DESC, category`

type LedgerCategory struct {
	Category string
	Uses     int64
}

func (q *Queries) ListLedgerCategories(ctx context.Context) ([]LedgerCategory, error) {
	rows, err := q.db.QueryContext(ctx, listLedgerCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerCategory
	for rows.Next() {
		var i LedgerCategory
		if err := rows.Scan(&i.Category, &i.Uses); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createStatementImport = `
INSERT INTO statement_imports (id, file_name, format, row_count, inserted, duplicates, created_at)
VALUES (?, ?, ?, ?, 0, 0, ?)`

type CreateStatementImportParams struct {
	ID        string
	FileName  string
	Format    string
	RowCount  int64
	CreatedAt string
}

func (q *Queries) CreateStatementImport(ctx context.Context, arg CreateStatementImportParams) error {
	_, err := q.db.ExecContext(ctx, createStatementImport, arg.ID, arg.FileName, arg.Format, arg.RowCount, arg.CreatedAt)
	return err
}

const finishStatementImport = `UPDATE statement_imports SET inserted = ?, duplicates = ? WHERE id = ?`

func (q *Queries) FinishStatementImport(ctx context.Context, id string, inserted, duplicates int64) error {
	_, err := q.db.ExecContext(ctx, finishStatementImport, inserted, duplicates, id)
	return err
}

const listStatementImports = `
SELECT id, file_name, format, row_count, inserted, duplicates, created_at
FROM statement_imports
ORDER BY created_at DESC
LIMIT ?`

func (q *Queries) ListStatementImports(ctx context.Context, limit int64) ([]StatementImport, error) {
	rows, err := q.db.QueryContext(ctx, listStatementImports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StatementImport
	for rows.Next() {
		var i StatementImport
		if err := rows.Scan(&i.ID, &i.FileName, &i.Format, &i.RowCount, &i.Inserted, &i.Duplicates, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertBankTransaction = `
INSERT INTO bank_transactions (import_id, txn_date, description, amount_cents, txn_type, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(reference) DO NOTHING`

type InsertBankTransactionParams struct {
	ImportID    string
	TxnDate     string
	Description string
	AmountCents int64
	TxnType     string
	Reference   string
	CreatedAt   string
}

// InsertBankTransaction returns 0 when the reference already exists.
func (q *Queries) InsertBankTransaction(ctx context.Context, arg InsertBankTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertBankTransaction,
		arg.ImportID,
		arg.TxnDate,
		arg.Description,
		arg.AmountCents,
		arg.TxnType,
		arg.Reference,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listBankTransactionsByRange = `
SELECT id, import_id, txn_date, description, amount_cents, txn_type, reference, created_at
FROM bank_transactions
WHERE txn_date >= ? AND txn_date <= ?
ORDER BY txn_date, id`

func (q *Queries) ListBankTransactionsByRange(ctx context.Context, from, to string) ([]BankTransaction, error) {
	rows, err := q.db.QueryContext(ctx, listBankTransactionsByRange, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BankTransaction
	for rows.Next() {
		var i BankTransaction
		if err := rows.Scan(
			&i.ID,
			&i.ImportID,
			&i.TxnDate,
			&i.Description,
			&i.AmountCents,
			&i.TxnType,
			&i.Reference,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const receiptColumns = `id, file_name, mime_type, storage_path, raw_text, status, attempts, last_error,
       method, confidence, ledger_entry_id, created_at, updated_at`

func scanReceipt(row interface{ Scan(...any) error }) (Receipt, error) {
	var i Receipt
	err := row.Scan(
		&i.ID,
		&i.FileName,
		&i.MimeType,
		&i.StoragePath,
		&i.RawText,
		&i.Status,
		&i.Attempts,
		&i.LastError,
		&i.Method,
		&i.Confidence,
		&i.LedgerEntryID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) listReceipts(ctx context.Context, query string, args ...any) ([]Receipt, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Receipt
	for rows.Next() {
		i, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createReceipt = `
INSERT INTO receipts (file_name, mime_type, storage_path, raw_text, status, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?)
RETURNING ` + receiptColumns

type CreateReceiptParams struct {
	FileName    string
	MimeType    string
	StoragePath string
	RawText     string
	CreatedAt   string
}

func (q *Queries) CreateReceipt(ctx context.Context, arg CreateReceiptParams) (Receipt, error) {
	row := q.db.QueryRowContext(ctx, createReceipt,
		arg.FileName,
		arg.MimeType,
		arg.StoragePath,
		arg.RawText,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return scanReceipt(row)
}

const getReceipt = `SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`

func (q *Queries) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	return scanReceipt(q.db.QueryRowContext(ctx, getReceipt, id))
}

const listRecentReceipts = `SELECT ` + receiptColumns + ` FROM receipts ORDER BY id DESC LIMIT ?`

func (q *Queries) ListRecentReceipts(ctx context.Context, limit int64) ([]Receipt, error) {
	return q.listReceipts(ctx, listRecentReceipts, limit)
}

const getPendingReceipts = `
SELECT ` + receiptColumns + `
FROM receipts
WHERE status = 'pending'
ORDER BY id
LIMIT ?`

func (q *Queries) GetPendingReceipts(ctx context.Context, limit int64) ([]Receipt, error) {
	return q.listReceipts(ctx, getPendingReceipts, limit)
}

const claimReceipt = `
UPDATE receipts
SET status = 'processing', attempts = attempts + 1, updated_at = ?
WHERE id = ? AND status <> 'processing'`

// ClaimReceipt returns 0 when another worker is already processing the receipt.
func (q *Queries) ClaimReceipt(ctx context.Context, id int64, updatedAt string) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimReceipt, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markReceiptExtracted = `
UPDATE receipts
SET status = 'extracted', ledger_entry_id = ?, method = ?, confidence = ?, raw_text = ?,
    last_error = '', updated_at = ?
WHERE id = ?`

type MarkReceiptExtractedParams struct {
	ID            int64
	LedgerEntryID int64
	Method        string
	Confidence    float64
	RawText       string
	UpdatedAt     string
}

func (q *Queries) MarkReceiptExtracted(ctx context.Context, arg MarkReceiptExtractedParams) error {
	_, err := q.db.ExecContext(ctx, markReceiptExtracted,
		arg.LedgerEntryID,
		arg.Method,
		arg.Confidence,
		arg.RawText,
		arg.UpdatedAt,
		arg.ID,
	)
	return err
}

const markReceiptFailed = `
UPDATE receipts
SET status = ?, last_error = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) MarkReceiptFailed(ctx context.Context, id int64, status, lastError, updatedAt string) error {
	_, err := q.db.ExecContext(ctx, markReceiptFailed, status, lastError, updatedAt, id)
	return err
}

const resetStaleReceipts = `
UPDATE receipts
SET status = 'pending', updated_at = ?
WHERE status = 'processing' AND updated_at < ?`

func (q *Queries) ResetStaleReceipts(ctx context.Context, updatedAt, cutoff string) (int64, error) {
	result, err := q.db.ExecContext(ctx, resetStaleReceipts, updatedAt, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createReconciliationRun = `
INSERT INTO reconciliation_runs (
    id, period_from, period_to, amount_tolerance_cents, date_tolerance_seconds,
    ledger_count, bank_count, matched, ledger_only, bank_only,
    matched_cents, ledger_only_cents, bank_only_cents, match_rate, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateReconciliationRun(ctx context.Context, arg ReconciliationRun) error {
	_, err := q.db.ExecContext(ctx, createReconciliationRun,
		arg.ID,
		arg.PeriodFrom,
		arg.PeriodTo,
		arg.AmountToleranceCents,
		arg.DateToleranceSeconds,
		arg.LedgerCount,
		arg.BankCount,
		arg.Matched,
		arg.LedgerOnly,
		arg.BankOnly,
		arg.MatchedCents,
		arg.LedgerOnlyCents,
		arg.BankOnlyCents,
		arg.MatchRate,
		arg.CreatedAt,
	)
	return err
}

const runColumns = `id, period_from, period_to, amount_tolerance_cents, date_tolerance_seconds,
       ledger_count, bank_count, matched, ledger_only, bank_only,
       matched_cents, ledger_only_cents, bank_only_cents, match_rate, created_at`

func scanReconciliationRun(row interface{ Scan(...any) error }) (ReconciliationRun, error) {
	var i ReconciliationRun
	err := row.Scan(
		&i.ID,
		&i.PeriodFrom,
		&i.PeriodTo,
		&i.AmountToleranceCents,
		&i.DateToleranceSeconds,
		&i.LedgerCount,
		&i.BankCount,
		&i.Matched,
		&i.LedgerOnly,
		&i.BankOnly,
		&i.MatchedCents,
		&i.LedgerOnlyCents,
		&i.BankOnlyCents,
		&i.MatchRate,
		&i.CreatedAt,
	)
	return i, err
}

const getReconciliationRun = `SELECT ` + runColumns + ` FROM reconciliation_runs WHERE id = ?`

func (q *Queries) GetReconciliationRun(ctx context.Context, id string) (ReconciliationRun, error) {
	return scanReconciliationRun(q.db.QueryRowContext(ctx, getReconciliationRun, id))
}

const listReconciliationRuns = `SELECT ` + runColumns + ` FROM reconciliation_runs ORDER BY created_at DESC, id LIMIT ?`

func (q *Queries) ListReconciliationRuns(ctx context.Context, limit int64) ([]ReconciliationRun, error) {
	rows, err := q.db.QueryContext(ctx, listReconciliationRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ReconciliationRun
	for rows.Next() {
		i, err := scanReconciliationRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createReconciliationItem = `
INSERT INTO reconciliation_items (run_id, position, kind, ledger_entry_id, bank_transaction_id, confidence, snapshot)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateReconciliationItem(ctx context.Context, arg ReconciliationItem) error {
	_, err := q.db.ExecContext(ctx, createReconciliationItem,
		arg.RunID,
		arg.Position,
		arg.Kind,
		arg.LedgerEntryID,
		arg.BankTransactionID,
		arg.Confidence,
		arg.Snapshot,
	)
	return err
}

const listReconciliationItems = `
SELECT id, run_id, position, kind, ledger_entry_id, bank_transaction_id, confidence, snapshot
FROM reconciliation_items
WHERE run_id = ?
ORDER BY kind, position`

func (q *Queries) ListReconciliationItems(ctx context.Context, runID string) ([]ReconciliationItem, error) {
	rows, err := q.db.QueryContext(ctx, listReconciliationItems, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ReconciliationItem
	for rows.Next() {
		var i ReconciliationItem
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.Position,
			&i.Kind,
			&i.LedgerEntryID,
			&i.BankTransactionID,
			&i.Confidence,
			&i.Snapshot,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
