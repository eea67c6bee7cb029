package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/config"
	"receipts/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, None, cfg.Type)
	assert.NotEmpty(t, cfg.DefaultCategories)

	_, err = FromAppConfig(&config.Config{ExportBackend: "excel"})
	assert.Error(t, err)

	cfg, err = FromAppConfig(&config.Config{ExportBackend: config.ExportSheets, GoogleSpreadsheetID: "sheet-1"})
	require.NoError(t, err)
	assert.Equal(t, Sheets, cfg.Type)
	assert.Equal(t, "sheet-1", cfg.GoogleSpreadsheetID)
}

func TestNew_None(t *testing.T) {
	res, err := New(context.Background(), Config{Type: None, DefaultCategories: []string{"Fuel", "Other"}})
	require.NoError(t, err)
	assert.Nil(t, res.Writer)

	cats, err := res.Categories.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuel", "Other"}, cats)
}

func TestNew_MemoryWritesAndReadsCategoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.txt")
	require.NoError(t, os.WriteFile(path, []byte("Groceries\nFuel\n\nGroceries\n"), 0o644))

	res, err := New(context.Background(), Config{Type: Memory, CategoriesFile: path, DefaultCategories: []string{"Other"}})
	require.NoError(t, err)
	require.NotNil(t, res.Writer)

	cats, err := res.Categories.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Groceries", "Fuel"}, cats)

	ref, err := res.Writer.Append(context.Background(), core.LedgerEntry{ID: 1, Vendor: "Shell", Amount: core.Money{Cents: 100}, Date: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "mem:1", ref)
}

func TestNew_InvalidAndMisconfigured(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "excel"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Type: Sheets})
	assert.Error(t, err)
}
