package reconcile

import (
	"time"

	"receipts/internal/core"
)

// Run is a stored reconciliation over a date range. A zero bound is open.
// Result is only populated when a single run is loaded.
type Run struct {
	ID        string    `json:"id"`
	From      core.Date `json:"from"`
	To        core.Date `json:"to"`
	Options   Options   `json:"options"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	Result    *Result   `json:"result,omitempty"`
}
