// Package backend builds the ledger export backend selected by configuration.
package backend

import (
	"receipts/internal/sheets"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Result holds the export backend. Writer is nil when exporting is
// disabled; Categories is always set.
type Result struct {
	Type       Type
	Writer     sheets.LedgerWriter
	Categories sheets.CategoryLister
	Cleanup    CleanupFunc
}

// Config holds configuration for backend creation
type Config struct {
	Type Type

	// Google Sheets specific
	GoogleSpreadsheetID       string
	GoogleLedgerSheetName     string
	GoogleCategoriesSheetName string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string

	// Memory backend seeds categories from this file when present.
	CategoriesFile string

	// DefaultCategories are used when no other source lists any.
	DefaultCategories []string
}

// Type represents the type of export backend
type Type string

const (
	None   Type = "none"
	Memory Type = "memory"
	Sheets Type = "sheets"
)

func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case None, Memory, Sheets:
		return true
	default:
		return false
	}
}

// Types returns all valid backend types
func Types() []Type {
	return []Type{None, Memory, Sheets}
}
