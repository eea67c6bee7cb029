package storage

import "database/sql"

type LedgerEntry struct {
	ID           int64
	Vendor       string
	Category     string
	Description  string
	AmountCents  int64
	EntryDate    string
	ReceiptID    sql.NullInt64
	Source       string
	ExportStatus string
	ExportRef    string
	ExportError  string
	Version      int64
	CreatedAt    string
	UpdatedAt    string
}

type StatementImport struct {
	ID         string
	FileName   string
	Format     string
	RowCount   int64
	Inserted   int64
	Duplicates int64
	CreatedAt  string
}

type BankTransaction struct {
	ID          int64
	ImportID    string
	TxnDate     string
	Description string
	AmountCents int64
	TxnType     string
	Reference   string
	CreatedAt   string
}

type Receipt struct {
	ID            int64
	FileName      string
	MimeType      string
	StoragePath   string
	RawText       string
	Status        string
	Attempts      int64
	LastError     string
	Method        string
	Confidence    float64
	LedgerEntryID sql.NullInt64
	CreatedAt     string
	UpdatedAt     string
}

type ReconciliationRun struct {
	ID                   string
	PeriodFrom           string
	PeriodTo             string
	AmountToleranceCents int64
	DateToleranceSeconds int64
	LedgerCount          int64
	BankCount            int64
	Matched              int64
	LedgerOnly           int64
	BankOnly             int64
	MatchedCents         int64
	LedgerOnlyCents      int64
	BankOnlyCents        int64
	MatchRate            float64
	CreatedAt            string
}

type ReconciliationItem struct {
	ID                int64
	RunID             string
	Position          int64
	Kind              string
	LedgerEntryID     sql.NullInt64
	BankTransactionID sql.NullInt64
	Confidence        float64
	Snapshot          string
}
