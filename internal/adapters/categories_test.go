package adapters

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
	"receipts/internal/storage"
)

type staticLister struct {
	cats []string
	err  error
}

func (s staticLister) Categories(context.Context) ([]string, error) { return s.cats, s.err }

type brokenSource struct{}

func (brokenSource) ListLedgerCategories(context.Context) ([]string, error) {
	return nil, errors.New("database is closed")
}

func TestLedgerCategories_MergesRemoteAndLocal(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	for _, cat := range []string{"Pets", "fuel", "Pets"} {
		_, err := repo.CreateLedgerEntry(ctx, core.LedgerEntry{
			Vendor:   "Vendor",
			Category: cat,
			Amount:   core.Money{Cents: 100},
			Date:     time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	a := NewLedgerCategories(repo, staticLister{cats: []string{"Fuel", "Groceries"}}, []string{"Other"})
	cats, source, err := a.CategoriesWithSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuel", "Groceries", "Pets"}, cats)
	assert.Equal(t, SourceBackend, source)
}

func TestLedgerCategories_Fallbacks(t *testing.T) {
	ctx := context.Background()

	a := NewLedgerCategories(nil, staticLister{err: errors.New("quota exceeded")}, []string{"Other", "Fuel"})
	cats, source, err := a.CategoriesWithSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Other", "Fuel"}, cats)
	assert.Equal(t, SourceDefault, source)

	// An empty remote list also means the defaults were served.
	a = NewLedgerCategories(nil, staticLister{}, []string{"Other"})
	_, source, err = a.CategoriesWithSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source)

	a = NewLedgerCategories(brokenSource{}, nil, []string{"Other", " other ", ""})
	cats, err = a.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, cats)
}
