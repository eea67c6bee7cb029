package reconcile

import (
	"fmt"
	"math"
	"strings"
	"time"

	"receipts/internal/core"
)

const (
	amountWeight = 0.5
	dateWeight   = 0.3
	vendorWeight = 0.2
)

// score returns a confidence in [0, 1] with the reasons behind it. An exact
// amount on the same day with the vendor named in the bank description
// scores 1. Amount and date each lose at most half of their weight at the
// edge of the tolerance window.
func score(entry core.LedgerEntry, tx core.BankTransaction, amt int64, dd time.Duration, opts Options) (float64, []string) {
	var reasons []string

	amountScore := 1.0
	if amt == 0 {
		reasons = append(reasons, "exact amount")
	} else {
		if tol := opts.AmountTolerance.Cents; tol > 0 {
			amountScore = 1 - 0.5*float64(amt)/float64(tol)
		}
		reasons = append(reasons, fmt.Sprintf("amount within %s", core.Money{Cents: amt}))
	}

	dateScore := 1.0
	if sameDay(entry.Date, tx.Date) {
		reasons = append(reasons, "same day")
	} else {
		reasons = append(reasons, fmt.Sprintf("date off by %s", dd.Round(time.Minute)))
	}
	if tol := opts.DateTolerance; tol > 0 {
		dateScore = 1 - 0.5*float64(dd)/float64(tol)
	}

	vendorScore := vendorOverlap(entry.Vendor, tx.Description)
	if vendorScore > 0 {
		reasons = append(reasons, "vendor appears in bank description")
	}

	conf := amountWeight*amountScore + dateWeight*dateScore + vendorWeight*vendorScore
	return round2(math.Max(0, math.Min(1, conf))), reasons
}

// vendorOverlap is the share of vendor words that appear as whole words in
// the bank description.
func vendorOverlap(vendor, description string) float64 {
	words := strings.Fields(core.NormalizeVendor(vendor))
	if len(words) == 0 {
		return 0
	}
	desc := make(map[string]bool)
	for _, w := range strings.Fields(core.NormalizeVendor(description)) {
		desc[w] = true
	}
	found := 0
	for _, w := range words {
		if desc[w] {
			found++
		}
	}
	return float64(found) / float64(len(words))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
