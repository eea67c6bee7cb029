package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"receipts/internal/core"
	"receipts/internal/extraction"
	"receipts/internal/storage"
)

const (
	DefaultMaxUploadBytes     = 10 << 20
	DefaultMaxExtractAttempts = 3
)

var (
	ErrTooLarge    = errors.New("payload too large")
	ErrReceiptBusy = errors.New("receipt is already being processed")
)

// ReceiptExtractor turns receipt content into structured data.
// *extraction.Pipeline satisfies it.
type ReceiptExtractor interface {
	Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

type ReceiptServiceConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	// MaxAttempts bounds retries of retryable extraction failures.
	MaxAttempts int64
}

// ReceiptUpload is either a file (Data) or pasted text.
type ReceiptUpload struct {
	FileName string
	Data     []byte
	Text     string
}

type ReceiptService struct {
	storage   *storage.SQLiteRepository
	extractor ReceiptExtractor
	ledger    *LedgerService
	publisher JobPublisher
	config    ReceiptServiceConfig
}

func NewReceiptService(
	storage *storage.SQLiteRepository,
	extractor ReceiptExtractor,
	ledger *LedgerService,
	publisher JobPublisher,
	config ReceiptServiceConfig,
) *ReceiptService {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxExtractAttempts
	}
	return &ReceiptService{
		storage:   storage,
		extractor: extractor,
		ledger:    ledger,
		publisher: publisher,
		config:    config,
	}
}

// Submit stores the receipt and either extracts it now (sync) or queues it.
// Without a queue the receipt stays pending for the background processor.
// The returned entry is nil unless the receipt was extracted.
func (s *ReceiptService) Submit(ctx context.Context, up ReceiptUpload, sync bool) (core.Receipt, *core.LedgerEntry, error) {
	rc, err := s.store(ctx, up)
	if err != nil {
		return core.Receipt{}, nil, err
	}

	if sync {
		entry, err := s.ExtractReceipt(ctx, rc.ID)
		if err != nil {
			return s.reload(ctx, rc), nil, err
		}
		return s.reload(ctx, rc), &entry, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishExtractReceipt(ctx, rc.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish extraction message",
				"receipt_id", rc.ID,
				"error", err)
		}
	}
	return rc, nil, nil
}

func (s *ReceiptService) store(ctx context.Context, up ReceiptUpload) (core.Receipt, error) {
	rc := core.Receipt{FileName: filepath.Base(strings.TrimSpace(up.FileName))}
	if rc.FileName == "." || rc.FileName == string(filepath.Separator) {
		rc.FileName = ""
	}

	switch {
	case len(up.Data) > 0:
		if int64(len(up.Data)) > s.config.MaxUploadBytes {
			return core.Receipt{}, fmt.Errorf("%d bytes exceeds %d: %w", len(up.Data), s.config.MaxUploadBytes, ErrTooLarge)
		}
		rc.MimeType = extraction.DetectMimeType(up.Data)
		if !extraction.SupportedMimeType(rc.MimeType) {
			return core.Receipt{}, fmt.Errorf("detected %q: %w", rc.MimeType, core.ErrUnsupportedReceipt)
		}
		if rc.MimeType == extraction.MimeText {
			rc.Text = string(up.Data)
			break
		}
		path, err := s.saveFile(rc.MimeType, up.Data)
		if err != nil {
			return core.Receipt{}, err
		}
		rc.StoragePath = path
	case strings.TrimSpace(up.Text) != "":
		if int64(len(up.Text)) > s.config.MaxUploadBytes {
			return core.Receipt{}, fmt.Errorf("%d bytes exceeds %d: %w", len(up.Text), s.config.MaxUploadBytes, ErrTooLarge)
		}
		rc.MimeType = extraction.MimeText
		rc.Text = up.Text
	default:
		return core.Receipt{}, fmt.Errorf("empty receipt: %w", core.ErrUnsupportedReceipt)
	}

	return s.storage.CreateReceipt(ctx, rc)
}

func (s *ReceiptService) saveFile(mime string, data []byte) (string, error) {
	if err := os.MkdirAll(s.config.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(s.config.UploadDir, uuid.NewString()+extensionFor(mime))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

func extensionFor(mime string) string {
	switch mime {
	case extraction.MimePDF:
		return ".pdf"
	case extraction.MimePNG:
		return ".png"
	case extraction.MimeJPEG:
		return ".jpg"
	case extraction.MimeGIF:
		return ".gif"
	case extraction.MimeWebP:
		return ".webp"
	default:
		return ".bin"
	}
}

func (s *ReceiptService) Get(ctx context.Context, id int64) (core.Receipt, error) {
	return s.storage.GetReceipt(ctx, id)
}

func (s *ReceiptService) List(ctx context.Context, limit int) ([]core.Receipt, error) {
	return s.storage.ListReceipts(ctx, limit)
}

// ExtractReceipt runs extraction for a stored receipt and records the
// resulting ledger entry. Re-running it on an extracted receipt updates that
// receipt's entry instead of adding a second one.
func (s *ReceiptService) ExtractReceipt(ctx context.Context, id int64) (core.LedgerEntry, error) {
	claimed, err := s.storage.ClaimReceipt(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if !claimed {
		if _, err := s.storage.GetReceipt(ctx, id); err != nil {
			return core.LedgerEntry{}, err
		}
		return core.LedgerEntry{}, fmt.Errorf("receipt %d: %w", id, ErrReceiptBusy)
	}

	rc, err := s.storage.GetReceipt(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, err
	}

	entry, result, err := s.extract(ctx, rc)
	if err != nil {
		retry := extraction.IsRetryable(err) && rc.Attempts < s.config.MaxAttempts
		if markErr := s.storage.MarkReceiptFailed(ctx, id, err.Error(), retry); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark receipt failed", "receipt_id", id, "error", markErr)
		}
		slog.WarnContext(ctx, "Receipt extraction failed",
			"receipt_id", id,
			"attempt", rc.Attempts,
			"will_retry", retry,
			"error", err)
		return core.LedgerEntry{}, err
	}

	if err := s.storage.MarkReceiptExtracted(ctx, id, entry.ID, result.Method, result.Confidence, result.RawText); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("mark receipt extracted: %w", err)
	}

	slog.InfoContext(ctx, "Receipt extracted",
		"receipt_id", id,
		"ledger_id", entry.ID,
		"method", result.Method,
		"confidence", result.Confidence,
		"amount_cents", entry.Amount.Cents)
	return entry, nil
}

func (s *ReceiptService) extract(ctx context.Context, rc core.Receipt) (core.LedgerEntry, *extraction.Result, error) {
	in := extraction.Input{MimeType: rc.MimeType, FileName: rc.FileName, Text: rc.Text}
	if rc.StoragePath != "" {
		data, err := os.ReadFile(rc.StoragePath)
		if err != nil {
			return core.LedgerEntry{}, nil, fmt.Errorf("read receipt file: %w", err)
		}
		in.Data = data
	}

	result, err := s.extractor.Extract(ctx, in)
	if err != nil {
		return core.LedgerEntry{}, nil, err
	}

	entry := result.LedgerEntry(rc.CreatedAt)
	receiptID := rc.ID
	entry.ReceiptID = &receiptID

	if rc.LedgerEntryID != nil {
		entry.ID = *rc.LedgerEntryID
		updated, err := s.ledger.Update(ctx, entry)
		if err == nil {
			return updated, result, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return core.LedgerEntry{}, nil, fmt.Errorf("update ledger entry: %w", err)
		}
		entry.ID = 0
	}

	created, err := s.ledger.Create(ctx, entry)
	if err != nil {
		return core.LedgerEntry{}, nil, fmt.Errorf("create ledger entry: %w", err)
	}
	return created, result, nil
}

func (s *ReceiptService) reload(ctx context.Context, rc core.Receipt) core.Receipt {
	fresh, err := s.storage.GetReceipt(ctx, rc.ID)
	if err != nil {
		return rc
	}
	return fresh
}
