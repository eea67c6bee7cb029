package storage

import (
	"database/sql"
	"errors"
	"time"

	"receipts/internal/core"
	"receipts/internal/reconcile"
)

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dateBounds(from, to time.Time) (string, string) {
	lo, hi := minDate, maxDate
	if !from.IsZero() {
		lo = formatDate(from)
	}
	if !to.IsZero() {
		hi = formatDate(to)
	}
	return lo, hi
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func optionalID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func toLedgerEntry(row LedgerEntry) core.LedgerEntry {
	return core.LedgerEntry{
		ID:           row.ID,
		Vendor:       row.Vendor,
		Category:     row.Category,
		Description:  row.Description,
		Amount:       core.Money{Cents: row.AmountCents},
		Date:         parseDate(row.EntryDate),
		ReceiptID:    int64Ptr(row.ReceiptID),
		Source:       row.Source,
		ExportStatus: row.ExportStatus,
		CreatedAt:    parseTimestamp(row.CreatedAt),
	}
}

func toReceipt(row Receipt) core.Receipt {
	return core.Receipt{
		ID:            row.ID,
		FileName:      row.FileName,
		MimeType:      row.MimeType,
		StoragePath:   row.StoragePath,
		Text:          row.RawText,
		Status:        core.ReceiptStatus(row.Status),
		Attempts:      row.Attempts,
		LastError:     row.LastError,
		Method:        row.Method,
		Confidence:    row.Confidence,
		LedgerEntryID: int64Ptr(row.LedgerEntryID),
		CreatedAt:     parseTimestamp(row.CreatedAt),
		UpdatedAt:     parseTimestamp(row.UpdatedAt),
	}
}

func toReceipts(rows []Receipt) []core.Receipt {
	out := make([]core.Receipt, len(rows))
	for i, row := range rows {
		out[i] = toReceipt(row)
	}
	return out
}

func toRun(row ReconciliationRun) reconcile.Run {
	var from, to core.Date
	if row.PeriodFrom != "" {
		from, _ = core.ParseDate(row.PeriodFrom)
	}
	if row.PeriodTo != "" {
		to, _ = core.ParseDate(row.PeriodTo)
	}
	return reconcile.Run{
		ID:   row.ID,
		From: from,
		To:   to,
		Options: reconcile.Options{
			AmountTolerance: core.Money{Cents: row.AmountToleranceCents},
			DateTolerance:   time.Duration(row.DateToleranceSeconds) * time.Second,
		},
		Summary: reconcile.Summary{
			LedgerCount:      int(row.LedgerCount),
			BankCount:        int(row.BankCount),
			Matched:          int(row.Matched),
			LedgerOnly:       int(row.LedgerOnly),
			BankOnly:         int(row.BankOnly),
			MatchedAmount:    core.Money{Cents: row.MatchedCents},
			LedgerOnlyAmount: core.Money{Cents: row.LedgerOnlyCents},
			BankOnlyAmount:   core.Money{Cents: row.BankOnlyCents},
			MatchRate:        row.MatchRate,
		},
		CreatedAt: parseTimestamp(row.CreatedAt),
	}
}
