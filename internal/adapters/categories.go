// Package adapters bridges local storage to the outbound ledger ports.
package adapters

import (
	"context"
	"log/slog"
	"strings"

	"receipts/internal/sheets"
)

// CategorySource lists categories already used in the local ledger.
// *storage.SQLiteRepository satisfies it.
type CategorySource interface {
	ListLedgerCategories(ctx context.Context) ([]string, error)
}

// LedgerCategories implements sheets.CategoryLister by merging the export
// backend's categories (or a fixed default set) with categories already
// recorded in the local ledger.
type LedgerCategories struct {
	local    CategorySource
	remote   sheets.CategoryLister
	defaults []string
}

var _ sheets.CategoryLister = (*LedgerCategories)(nil)

// NewLedgerCategories creates the adapter. remote may be nil.
func NewLedgerCategories(local CategorySource, remote sheets.CategoryLister, defaults []string) *LedgerCategories {
	return &LedgerCategories{local: local, remote: remote, defaults: defaults}
}

// Where the base of a category list came from.
const (
	SourceBackend = "backend"
	SourceDefault = "default"
)

// Categories returns remote (or default) categories first, followed by local
// ones not already listed. Matching ignores case. A failing remote falls back
// to the defaults; a failing local store is only logged.
func (a *LedgerCategories) Categories(ctx context.Context) ([]string, error) {
	cats, _, err := a.CategoriesWithSource(ctx)
	return cats, err
}

// CategoriesWithSource is Categories that also reports whether the export
// backend or the default set supplied the base list.
func (a *LedgerCategories) CategoriesWithSource(ctx context.Context) ([]string, string, error) {
	base, source := a.defaults, SourceDefault
	if a.remote != nil {
		remote, err := a.remote.Categories(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Remote category listing failed, using defaults",
				"component", "sheets",
				"error", err)
		} else if len(remote) > 0 {
			base, source = remote, SourceBackend
		}
	}

	var local []string
	if a.local != nil {
		var err error
		local, err = a.local.ListLedgerCategories(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Local category listing failed",
				"component", "storage",
				"error", err)
		}
	}
	return merge(base, local), source, nil
}

func merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, c := range list {
			c = strings.TrimSpace(c)
			key := strings.ToLower(c)
			if c == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}
