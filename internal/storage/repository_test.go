package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
	"receipts/internal/reconcile"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")

	v1, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v1)

	v2, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestLedgerEntryLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
		Vendor:   "Starbucks",
		Category: "Dining",
		Amount:   core.Money{Cents: 550},
		Date:     day(2025, 3, 1),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, core.SourceManual, created.Source)
	assert.Equal(t, core.ExportPending, created.ExportStatus)
	assert.True(t, created.Date.Equal(day(2025, 3, 1)))
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetLedgerEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	got.Vendor = "Starbucks Reserve"
	got.Amount = core.Money{Cents: 675}
	updated, err := repo.UpdateLedgerEntry(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Starbucks Reserve", updated.Vendor)
	assert.Equal(t, int64(675), updated.Amount.Cents)

	_, version, err := repo.GetLedgerEntryVersion(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	require.NoError(t, repo.DeleteLedgerEntry(ctx, created.ID))
	_, err = repo.GetLedgerEntry(ctx, created.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteLedgerEntry(ctx, created.ID), core.ErrNotFound)
}

func TestUpdateLedgerEntry_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.UpdateLedgerEntry(context.Background(), core.LedgerEntry{
		ID:     999,
		Vendor: "x",
		Amount: core.Money{Cents: 1},
		Date:   day(2025, 1, 1),
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListLedgerEntries_Range(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i, d := range []time.Time{day(2025, 1, 31), day(2025, 2, 1), day(2025, 2, 28), day(2025, 3, 1)} {
		_, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
			Vendor: "Vendor",
			Amount: core.Money{Cents: int64(100 * (i + 1))},
			Date:   d,
		})
		require.NoError(t, err)
	}

	feb, err := repo.ListLedgerEntries(ctx, day(2025, 2, 1), day(2025, 2, 28))
	require.NoError(t, err)
	require.Len(t, feb, 2)
	assert.Equal(t, int64(200), feb[0].Amount.Cents)
	assert.Equal(t, int64(300), feb[1].Amount.Cents)

	all, err := repo.ListLedgerEntries(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestListLedgerCategories(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, cat := range []string{"Fuel", "Groceries", "Fuel", "", "Dining", "Groceries", "Fuel"} {
		_, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
			Vendor:   "Vendor",
			Category: cat,
			Amount:   core.Money{Cents: 100},
			Date:     day(2025, 1, 10),
		})
		require.NoError(t, err)
	}

	cats, err := repo.ListLedgerCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuel", "Groceries", "Dining"}, cats)
}

func TestExportTracking(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entry, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
		Vendor: "Shell",
		Amount: core.Money{Cents: 4000},
		Date:   day(2025, 4, 2),
	})
	require.NoError(t, err)

	pending, err := repo.GetPendingExports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.ID, pending[0].ID)
	assert.Equal(t, int64(1), pending[0].Version)

	ok, err := repo.MarkExported(ctx, entry.ID, 7, "Ledger!A2")
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not be marked")

	ok, err = repo.MarkExported(ctx, entry.ID, pending[0].Version, "Ledger!A2")
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err = repo.GetPendingExports(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := repo.GetLedgerEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExportExported, got.ExportStatus)

	require.NoError(t, repo.MarkExportError(ctx, entry.ID, "quota exceeded"))
	got, err = repo.GetLedgerEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExportError, got.ExportStatus)
}

func TestImportStatement_SkipsDuplicateReferences(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	txns := []core.BankTransaction{
		{Date: day(2025, 1, 15), Description: "STARBUCKS #123", Amount: core.Money{Cents: -550}, Type: "DEBIT_CARD", Reference: "chase_20250115_1"},
		{Date: day(2025, 1, 16), Description: "PAYROLL", Amount: core.Money{Cents: 250000}, Type: "ACH_CREDIT", Reference: "chase_20250116_2"},
	}

	first, err := repo.ImportStatement(ctx, "jan.csv", "chase", txns)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 2, first.RowCount)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, first.Duplicates)

	second, err := repo.ImportStatement(ctx, "jan-again.csv", "chase", txns)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)

	stored, err := repo.ListBankTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, first.ID, stored[0].ImportID)
	assert.Equal(t, int64(-550), stored[0].Amount.Cents)
	assert.True(t, stored[0].Date.Equal(day(2025, 1, 15)))

	imports, err := repo.ListStatementImports(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, imports, 2)
}

func TestReceiptLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rc, err := repo.CreateReceipt(ctx, core.Receipt{FileName: "r.txt", MimeType: "text/plain", Text: "TOTAL 4.84"})
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptPending, rc.Status)

	pending, err := repo.GetPendingReceipts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	claimed, err := repo.ClaimReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "receipt already processing")

	require.NoError(t, repo.MarkReceiptFailed(ctx, rc.ID, "provider timeout", true))
	got, err := repo.GetReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptPending, got.Status)
	assert.Equal(t, int64(1), got.Attempts)
	assert.Equal(t, "provider timeout", got.LastError)

	_, err = repo.ClaimReceipt(ctx, rc.ID)
	require.NoError(t, err)

	entry, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
		Vendor:    "Trader Joe's",
		Amount:    core.Money{Cents: 484},
		Date:      day(2025, 3, 14),
		ReceiptID: &rc.ID,
		Source:    core.SourceReceipt,
	})
	require.NoError(t, err)

	require.NoError(t, repo.MarkReceiptExtracted(ctx, rc.ID, entry.ID, "heuristic", 0.85, "TOTAL 4.84"))
	got, err = repo.GetReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptExtracted, got.Status)
	require.NotNil(t, got.LedgerEntryID)
	assert.Equal(t, entry.ID, *got.LedgerEntryID)
	assert.Empty(t, got.LastError)
	assert.Equal(t, "heuristic", got.Method)

	listed, err := repo.ListReceipts(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = repo.GetReceipt(ctx, 12345)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResetStaleReceipts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	clock := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	rc, err := repo.CreateReceipt(ctx, core.Receipt{MimeType: "text/plain", Text: "x"})
	require.NoError(t, err)
	_, err = repo.ClaimReceipt(ctx, rc.ID)
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	n, err := repo.ResetStaleReceipts(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock = clock.Add(2 * time.Hour)
	n, err = repo.ResetStaleReceipts(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptPending, got.Status)
}

func TestReconciliationRunRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entry, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{Vendor: "Starbucks", Amount: core.Money{Cents: 550}, Date: day(2025, 1, 15)})
	require.NoError(t, err)
	orphan, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{Vendor: "Cash Shop", Amount: core.Money{Cents: 1200}, Date: day(2025, 1, 20)})
	require.NoError(t, err)
	_, err = repo.ImportStatement(ctx, "s.csv", "generic", []core.BankTransaction{
		{Date: day(2025, 1, 15), Description: "STARBUCKS", Amount: core.Money{Cents: -550}, Reference: "r1"},
		{Date: day(2025, 1, 18), Description: "NETFLIX", Amount: core.Money{Cents: -1599}, Reference: "r2"},
	})
	require.NoError(t, err)
	bank, err := repo.ListBankTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)

	result := reconcile.Reconcile([]core.LedgerEntry{entry, orphan}, bank, reconcile.DefaultOptions())
	run := reconcile.Run{
		ID:        "run-1",
		From:      core.NewDate(2025, 1, 1),
		To:        core.NewDate(2025, 1, 31),
		Options:   reconcile.DefaultOptions(),
		Summary:   result.Summary,
		CreatedAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
		Result:    &result,
	}
	require.NoError(t, repo.SaveReconciliationRun(ctx, run))

	// Later edits must not change the stored run.
	require.NoError(t, repo.DeleteLedgerEntry(ctx, orphan.ID))

	loaded, err := repo.GetReconciliationRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.From, loaded.From)
	assert.Equal(t, run.To, loaded.To)
	assert.Equal(t, run.Options, loaded.Options)
	assert.Equal(t, result.Summary, loaded.Summary)
	assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))

	require.NotNil(t, loaded.Result)
	require.Len(t, loaded.Result.Matches, 1)
	assert.Equal(t, entry.ID, loaded.Result.Matches[0].LedgerEntry.ID)
	assert.Equal(t, result.Matches[0].Confidence, loaded.Result.Matches[0].Confidence)
	require.Len(t, loaded.Result.LedgerOnly, 1)
	assert.Equal(t, "Cash Shop", loaded.Result.LedgerOnly[0].Vendor)
	require.Len(t, loaded.Result.BankOnly, 1)
	assert.Equal(t, "r2", loaded.Result.BankOnly[0].Reference)

	runs, err := repo.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)

	_, err = repo.GetReconciliationRun(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
