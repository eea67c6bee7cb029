package google

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"receipts/internal/core"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Config{SpreadsheetID: "sheet-id"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("inline wins", func(t *testing.T) {
		got, err := loadCredentials(ctx, Config{CredentialsJSON: ` {"type":"service_account"} `, CredentialsFile: "/nope"})
		if err != nil {
			t.Fatalf("loadCredentials: %v", err)
		}
		if string(got) != `{"type":"service_account"}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sa.json")
		if err := os.WriteFile(path, []byte(`{"k":1}`), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := loadCredentials(ctx, Config{CredentialsFile: path})
		if err != nil {
			t.Fatalf("loadCredentials: %v", err)
		}
		if string(got) != `{"k":1}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("application default path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adc.json")
		if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)
		if _, err := loadCredentials(ctx, Config{}); err != nil {
			t.Fatalf("loadCredentials: %v", err)
		}
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := loadCredentials(ctx, Config{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")})
		if err == nil || !strings.Contains(err.Error(), "read service account file") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestClient_AppendValidates(t *testing.T) {
	c := &Client{spreadsheetID: "test", ledgerSheet: DefaultLedgerSheet}

	_, err := c.Append(context.Background(), core.LedgerEntry{
		Vendor: "Shell",
		Amount: core.Money{Cents: 0},
		Date:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got: %v", err)
	}

	_, err = c.Append(context.Background(), core.LedgerEntry{
		Vendor: "Shell",
		Amount: core.Money{Cents: 100},
		Date:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err == nil || err.Error() != "sheets service not initialized" {
		t.Fatalf("expected uninitialized service error, got: %v", err)
	}
}

func TestClient_CategoriesWithoutService(t *testing.T) {
	c := &Client{}
	if _, err := c.Categories(context.Background()); err == nil {
		t.Fatal("expected error with nil service")
	}
}

func TestLedgerRow(t *testing.T) {
	e := core.LedgerEntry{
		ID:          42,
		Vendor:      "Trader Joe's",
		Category:    "Groceries",
		Description: "Weekly shop",
		Amount:      core.Money{Cents: 4250},
		Date:        time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	want := []any{"2025-03-14", "Trader Joe's", "Groceries", "Weekly shop", 42.5, "42"}
	if got := ledgerRow(e); !reflect.DeepEqual(got, want) {
		t.Errorf("ledgerRow() = %v, want %v", got, want)
	}
}

func TestParseColumn(t *testing.T) {
	values := [][]any{
		{"Groceries"},
		{},
		{"  Dining  "},
		{"# comment"},
		{""},
		{"Groceries"},
		{"Fuel", "ignored"},
	}
	want := []string{"Groceries", "Dining", "Fuel"}
	if got := parseColumn(values); !reflect.DeepEqual(got, want) {
		t.Errorf("parseColumn() = %v, want %v", got, want)
	}
}

func TestSheetOrDefault(t *testing.T) {
	if got := sheetOrDefault("  ", DefaultLedgerSheet); got != DefaultLedgerSheet {
		t.Errorf("got %q", got)
	}
	if got := sheetOrDefault(" 2025 Ledger ", DefaultLedgerSheet); got != "2025 Ledger" {
		t.Errorf("got %q", got)
	}
}
