package core

import (
	"sort"
	"strings"
	"time"
)

const UncategorizedCategory = "Uncategorized"

// CategoryTotal represents an amount aggregated by category name.
type CategoryTotal struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
	Count  int    `json:"count"`
}

// LedgerSummary is a compact summary of ledger entries in a date range.
type LedgerSummary struct {
	From       Date            `json:"-"`
	To         Date            `json:"-"`
	Total      Money           `json:"total"`
	Count      int             `json:"count"`
	ByCategory []CategoryTotal `json:"by_category"`
}

// Summarize totals entries whose date falls in [from, to]. A zero bound is open.
// Categories are ordered by total descending, then by name.
func Summarize(entries []LedgerEntry, from, to time.Time) LedgerSummary {
	s := LedgerSummary{From: Date{Time: from}, To: Date{Time: to}}
	byName := make(map[string]*CategoryTotal)

	for _, e := range entries {
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		if !to.IsZero() && e.Date.After(to) {
			continue
		}
		name := strings.TrimSpace(e.Category)
		if name == "" {
			name = UncategorizedCategory
		}
		ct, ok := byName[name]
		if !ok {
			ct = &CategoryTotal{Name: name}
			byName[name] = ct
		}
		ct.Amount = ct.Amount.Add(e.Amount)
		ct.Count++
		s.Total = s.Total.Add(e.Amount)
		s.Count++
	}

	s.ByCategory = make([]CategoryTotal, 0, len(byName))
	for _, ct := range byName {
		s.ByCategory = append(s.ByCategory, *ct)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		return a.Name < b.Name
	})
	return s
}
