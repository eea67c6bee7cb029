package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"receipts/internal/config"
	"receipts/internal/extraction"
	gsheet "receipts/internal/sheets/google"
	"receipts/internal/sheets/memory"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	t := Type(appConfig.ExportBackend)
	if t == "" {
		t = None
	}
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid export backend: %s", appConfig.ExportBackend)
	}

	return Config{
		Type:                      t,
		GoogleSpreadsheetID:       appConfig.GoogleSpreadsheetID,
		GoogleLedgerSheetName:     appConfig.GoogleLedgerSheetName,
		GoogleCategoriesSheetName: appConfig.GoogleCategoriesSheetName,
		GoogleServiceAccountJSON:  appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile:  appConfig.GoogleServiceAccountFile,
		CategoriesFile:            appConfig.CategoriesFile,
		DefaultCategories:         extraction.Categories(),
	}, nil
}

// New creates the export backend described by cfg.
func New(ctx context.Context, cfg Config) (*Result, error) {
	if !cfg.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.Type)
	}

	switch cfg.Type {
	case Sheets:
		return createSheetsBackend(ctx, cfg)
	case Memory:
		return createMemoryBackend(ctx, cfg), nil
	default:
		slog.InfoContext(ctx, "Ledger export disabled")
		return &Result{
			Type:       None,
			Categories: memory.NewFromFile(cfg.CategoriesFile, cfg.DefaultCategories),
		}, nil
	}
}

func createSheetsBackend(ctx context.Context, cfg Config) (*Result, error) {
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		LedgerSheet:     cfg.GoogleLedgerSheetName,
		CategoriesSheet: cfg.GoogleCategoriesSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	slog.InfoContext(ctx, "Initialized Google Sheets export backend",
		"spreadsheet_id", cfg.GoogleSpreadsheetID)
	return &Result{Type: Sheets, Writer: cli, Categories: cli}, nil
}

func createMemoryBackend(ctx context.Context, cfg Config) *Result {
	store := memory.NewFromFile(cfg.CategoriesFile, cfg.DefaultCategories)
	slog.InfoContext(ctx, "Initialized memory export backend",
		"categories_file", cfg.CategoriesFile)
	return &Result{Type: Memory, Writer: store, Categories: store}
}
