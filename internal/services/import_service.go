package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"receipts/internal/core"
	"receipts/internal/statement"
	"receipts/internal/storage"
)

// DefaultMaxStatementBytes caps a statement read into memory.
const DefaultMaxStatementBytes = 10 << 20

// ImportService parses bank statements and stores their transactions.
type ImportService struct {
	storage  *storage.SQLiteRepository
	registry *statement.Registry
	maxBytes int64
}

func NewImportService(storage *storage.SQLiteRepository, registry *statement.Registry, maxBytes int64) *ImportService {
	if registry == nil {
		registry = statement.DefaultRegistry()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxStatementBytes
	}
	return &ImportService{storage: storage, registry: registry, maxBytes: maxBytes}
}

// Import parses r with the named format, or detects it when format is empty,
// and stores every row in one transaction. Any bad row rejects the file.
func (s *ImportService) Import(ctx context.Context, fileName, format string, r io.Reader) (core.StatementImport, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return core.StatementImport{}, fmt.Errorf("read statement: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return core.StatementImport{}, fmt.Errorf("statement exceeds %d bytes: %w", s.maxBytes, ErrTooLarge)
	}

	start := time.Now()
	txns, used, err := s.registry.Parse(data, format)
	if err != nil {
		slog.WarnContext(ctx, "Statement parse failed",
			"file_name", fileName,
			"format", used,
			"error", err)
		return core.StatementImport{}, err
	}

	imp, err := s.storage.ImportStatement(ctx, fileName, used, txns)
	if err != nil {
		return core.StatementImport{}, fmt.Errorf("store statement: %w", err)
	}

	slog.InfoContext(ctx, "Statement import completed",
		"import_id", imp.ID,
		"format", used,
		"duration", time.Since(start))
	return imp, nil
}

// Preview returns the first rows of a CSV and the detected format.
func (s *ImportService) Preview(r io.Reader, maxRows int) (*statement.Preview, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read statement: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, core.ErrEmptyStatement
	}
	return s.registry.BuildPreview(bytes.NewReader(data), maxRows)
}

func (s *ImportService) Formats() []string {
	return s.registry.Formats()
}

func (s *ImportService) ListTransactions(ctx context.Context, from, to time.Time) ([]core.BankTransaction, error) {
	return s.storage.ListBankTransactions(ctx, from, to)
}

func (s *ImportService) ListImports(ctx context.Context, limit int) ([]core.StatementImport, error) {
	return s.storage.ListStatementImports(ctx, limit)
}
