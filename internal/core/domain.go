package core

import (
	"errors"
	"strings"
	"time"
)

const (
	SourceManual  = "manual"
	SourceReceipt = "receipt"
)

const (
	ReceiptPending    ReceiptStatus = "pending"
	ReceiptProcessing ReceiptStatus = "processing"
	ReceiptExtracted  ReceiptStatus = "extracted"
	ReceiptFailed     ReceiptStatus = "failed"
)

const (
	ExportPending  = "pending"
	ExportExported = "exported"
	ExportError    = "error"
	ExportSkipped  = "skipped"
)

type (
	ReceiptStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// LedgerEntry is a recorded expense. Amount is always positive.
	LedgerEntry struct {
		ID           int64     `json:"id"`
		Vendor       string    `json:"vendor"`
		Category     string    `json:"category"`
		Description  string    `json:"description"`
		Amount       Money     `json:"amount"`
		Date         time.Time `json:"date"`
		ReceiptID    *int64    `json:"receipt_id,omitempty"`
		Source       string    `json:"source"`
		ExportStatus string    `json:"export_status,omitempty"`
		CreatedAt    time.Time `json:"created_at"`
	}

	// BankTransaction is a statement row. Debits carry a negative amount.
	BankTransaction struct {
		ID          int64     `json:"id"`
		ImportID    string    `json:"import_id,omitempty"`
		Date        time.Time `json:"date"`
		Description string    `json:"description"`
		Amount      Money     `json:"amount"`
		Type        string    `json:"type,omitempty"`
		Reference   string    `json:"reference"`
		CreatedAt   time.Time `json:"created_at"`
	}

	// StatementImport records one uploaded statement file.
	StatementImport struct {
		ID         string    `json:"id"`
		FileName   string    `json:"file_name,omitempty"`
		Format     string    `json:"format"`
		RowCount   int       `json:"row_count"`
		Inserted   int       `json:"inserted"`
		Duplicates int       `json:"duplicates"`
		CreatedAt  time.Time `json:"created_at"`
	}

	Receipt struct {
		ID            int64         `json:"id"`
		FileName      string        `json:"file_name,omitempty"`
		MimeType      string        `json:"mime_type"`
		StoragePath   string        `json:"-"`
		Text          string        `json:"text,omitempty"`
		Status        ReceiptStatus `json:"status"`
		Attempts      int64         `json:"attempts"`
		LastError     string        `json:"last_error,omitempty"`
		Method        string        `json:"method,omitempty"`
		Confidence    float64       `json:"confidence,omitempty"`
		LedgerEntryID *int64        `json:"ledger_entry_id,omitempty"`
		CreatedAt     time.Time     `json:"created_at"`
		UpdatedAt     time.Time     `json:"updated_at"`
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyVendor        = errors.New("empty vendor")
	ErrEmptyDescription   = errors.New("empty description")
	ErrFieldTooLong       = errors.New("field too long")
	ErrNotFound           = errors.New("not found")
	ErrEmptyStatement     = errors.New("empty statement")
	ErrUnsupportedFormat  = errors.New("unsupported statement format")
	ErrUnsupportedReceipt = errors.New("unsupported receipt type")
)

const maxTextField = 200

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// MarshalJSON encodes the date as "YYYY-MM-DD", or null when zero.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.Vendor) == "" {
		return ErrEmptyVendor
	}
	if len(e.Vendor) > maxTextField || len(e.Category) > maxTextField {
		return ErrFieldTooLong
	}
	if len(e.Description) > 4*maxTextField {
		return ErrFieldTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (t BankTransaction) Validate() error {
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsDebit reports whether money left the account.
func (t BankTransaction) IsDebit() bool {
	return t.Amount.Cents < 0
}

// NormalizeVendor collapses whitespace and strips store numbers and
// trailing punctuation so that "WALMART #1234 " and "Walmart" compare equal.
func NormalizeVendor(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "#") || isAllDigits(f) {
			continue
		}
		f = strings.Trim(f, ".,;:*-'\"")
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
