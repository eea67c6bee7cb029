package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
	"receipts/internal/extraction"
)

const groceryText = `TRADER JOE'S #552
123 Main St
Springfield, IL
03/14/2025 12:31 PM
BANANAS          0.99
MILK             3.49
SUBTOTAL         4.48
TAX              0.36
TOTAL           $4.84
`

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func newReceiptService(t *testing.T, ext ReceiptExtractor, pub JobPublisher) (*ReceiptService, string) {
	t.Helper()
	repo := newTestStorage(t)
	dir := filepath.Join(t.TempDir(), "uploads")
	ledger := NewLedgerService(repo, nil, false)
	return NewReceiptService(repo, ext, ledger, pub, ReceiptServiceConfig{
		UploadDir:      dir,
		MaxUploadBytes: 1024,
		MaxAttempts:    2,
	}), dir
}

func TestReceiptService_SubmitTextSync(t *testing.T) {
	svc, _ := newReceiptService(t, extraction.NewHeuristicExtractor(), nil)
	ctx := context.Background()

	rc, entry, err := svc.Submit(ctx, ReceiptUpload{Text: groceryText}, true)
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, core.ReceiptExtracted, rc.Status)
	assert.Equal(t, extraction.MimeText, rc.MimeType)
	require.NotNil(t, rc.LedgerEntryID)
	assert.Equal(t, entry.ID, *rc.LedgerEntryID)
	assert.Equal(t, extraction.MethodHeuristic, rc.Method)

	assert.Equal(t, "Trader Joe's", entry.Vendor)
	assert.Equal(t, int64(484), entry.Amount.Cents)
	assert.True(t, entry.Date.Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, core.SourceReceipt, entry.Source)
	require.NotNil(t, entry.ReceiptID)
	assert.Equal(t, rc.ID, *entry.ReceiptID)
}

func TestReceiptService_SubmitQueuesWhenAsync(t *testing.T) {
	pub := &fakePublisher{}
	ext := &fakeExtractor{}
	svc, _ := newReceiptService(t, ext, pub)

	rc, entry, err := svc.Submit(context.Background(), ReceiptUpload{Text: groceryText}, false)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, core.ReceiptPending, rc.Status)
	assert.Equal(t, []publishedJob{{kind: "extract", id: rc.ID}}, pub.published())
	assert.Zero(t, ext.callCount())
}

func TestReceiptService_SubmitImageStoresFile(t *testing.T) {
	ext := &fakeExtractor{result: &extraction.Result{
		Vendor:     "Shell",
		Amount:     core.Money{Cents: 4000},
		Date:       time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		Confidence: 0.9,
		Method:     extraction.MethodOpenAI,
	}}
	svc, dir := newReceiptService(t, ext, nil)

	rc, entry, err := svc.Submit(context.Background(), ReceiptUpload{FileName: "../../etc/fuel.png", Data: pngHeader}, true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "fuel.png", rc.FileName)
	assert.Equal(t, extraction.MimePNG, rc.MimeType)
	assert.Equal(t, extraction.MethodOpenAI, rc.Method)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".png", filepath.Ext(files[0].Name()))
}

func TestReceiptService_SubmitRejects(t *testing.T) {
	svc, _ := newReceiptService(t, &fakeExtractor{}, nil)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, ReceiptUpload{}, false)
	assert.ErrorIs(t, err, core.ErrUnsupportedReceipt)

	_, _, err = svc.Submit(ctx, ReceiptUpload{Data: []byte{0x00, 0x01, 0x02, 0xff}}, false)
	assert.ErrorIs(t, err, core.ErrUnsupportedReceipt)

	big := make([]byte, 2048)
	copy(big, pngHeader)
	_, _, err = svc.Submit(ctx, ReceiptUpload{Data: big}, false)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReceiptService_RetryableFailureGoesBackToPending(t *testing.T) {
	ext := &fakeExtractor{err: &extraction.ExtractionError{
		Code:      extraction.ErrProviderTimeout,
		Message:   "timed out",
		Retryable: true,
	}}
	svc, _ := newReceiptService(t, ext, nil)
	ctx := context.Background()

	rc, _, err := svc.Submit(ctx, ReceiptUpload{Text: "x"}, false)
	require.NoError(t, err)

	_, err = svc.ExtractReceipt(ctx, rc.ID)
	require.Error(t, err)
	got, err := svc.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptPending, got.Status)
	assert.Contains(t, got.LastError, "timed out")

	// Second attempt reaches MaxAttempts.
	_, err = svc.ExtractReceipt(ctx, rc.ID)
	require.Error(t, err)
	got, err = svc.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptFailed, got.Status)
	assert.Equal(t, int64(2), got.Attempts)
}

func TestReceiptService_PermanentFailure(t *testing.T) {
	ext := &fakeExtractor{err: &extraction.ExtractionError{
		Code:    extraction.ErrNoAmountFound,
		Message: "no total",
	}}
	svc, _ := newReceiptService(t, ext, nil)
	ctx := context.Background()

	rc, _, err := svc.Submit(ctx, ReceiptUpload{Text: "hello"}, true)
	require.Error(t, err)
	assert.Equal(t, core.ReceiptFailed, rc.Status)
	assert.Equal(t, extraction.ErrNoAmountFound, extraction.CodeOf(err))
}

func TestReceiptService_ReextractUpdatesExistingEntry(t *testing.T) {
	ext := &fakeExtractor{result: &extraction.Result{
		Vendor: "Shell",
		Amount: core.Money{Cents: 4000},
		Date:   time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		Method: extraction.MethodGemini,
	}}
	svc, _ := newReceiptService(t, ext, nil)
	ctx := context.Background()

	rc, first, err := svc.Submit(ctx, ReceiptUpload{Text: "SHELL 40.00"}, true)
	require.NoError(t, err)

	ext.result.Amount = core.Money{Cents: 4200}
	second, err := svc.ExtractReceipt(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(4200), second.Amount.Cents)

	entries, err := svc.ledger.List(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReceiptService_ExtractMissing(t *testing.T) {
	svc, _ := newReceiptService(t, &fakeExtractor{}, nil)
	_, err := svc.ExtractReceipt(context.Background(), 404)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
