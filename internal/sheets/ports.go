package sheets

import (
	"context"

	"receipts/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter appends a ledger entry to an external ledger and returns a
	// reference to the written row.
	LedgerWriter interface {
		Append(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}

	// CategoryLister returns the categories the external ledger accepts.
	CategoryLister interface {
		Categories(ctx context.Context) ([]string, error)
	}
)
