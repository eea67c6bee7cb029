package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"receipts/internal/adapters"
	"receipts/internal/cache"
	"receipts/internal/extraction"
	"receipts/internal/reconcile"
	"receipts/internal/services"
	"receipts/internal/storage"
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

type testServer struct {
	*Server
	repo *storage.SQLiteRepository
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "receipts.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ledger := services.NewLedgerService(repo, nil, false)
	svc := Services{
		Ledger: ledger,
		Receipts: services.NewReceiptService(repo, extraction.NewHeuristicExtractor(), ledger, nil, services.ReceiptServiceConfig{
			UploadDir:      filepath.Join(t.TempDir(), "uploads"),
			MaxUploadBytes: 4096,
			MaxAttempts:    2,
		}),
		Imports:   services.NewImportService(repo, nil, 0),
		Reconcile: services.NewReconcileService(repo, nil, cache.NewLRUCache[reconcile.Run](8, time.Minute)),
	}
	if opts.Pinger == nil {
		opts.Pinger = repo
	}
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{Server: srv, repo: repo}
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) doJSON(t *testing.T, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return ts.do(t, method, target, body, "application/json")
}

func multipartBody(t *testing.T, field, fileName string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, nil, "")
		expectStatus(t, rr, http.StatusOK)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s content type = %q", path, ct)
		}
	}

	down := newTestServer(t, Options{Pinger: failingPinger{}})
	rr := down.do(t, http.MethodGet, "/readyz", nil, "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decode[map[string]any](t, rr)
	if body["status"] != "not_ready" {
		t.Errorf("status = %v, want not_ready", body["status"])
	}
}

func TestLedgerCRUD(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodPost, "/api/ledger", strings.NewReader("{not json"), "application/json")
	expectStatus(t, rr, http.StatusBadRequest)

	rr = ts.doJSON(t, http.MethodPost, "/api/ledger", map[string]any{"vendor": "", "amount": "4.00", "date": "2025-04-02"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if body := decode[ErrorBody](t, rr); body.Error != "empty vendor" || body.RequestID == "" {
		t.Errorf("unexpected error body: %+v", body)
	}

	rr = ts.doJSON(t, http.MethodPost, "/api/ledger", map[string]any{
		"vendor": "Shell", "category": "Fuel", "amount": "40.00", "date": "2025-04-02",
	})
	expectStatus(t, rr, http.StatusCreated)
	created := decode[map[string]any](t, rr)
	if created["amount"] != "40.00" || created["source"] != "manual" {
		t.Errorf("unexpected entry: %v", created)
	}
	id := int64(created["id"].(float64))
	target := "/api/ledger/" + itoa(id)

	rr = ts.doJSON(t, http.MethodPut, target, map[string]any{
		"vendor": "Shell", "category": "Fuel", "amount": 41.5, "date": "2025-04-03",
	})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["amount"]; got != "41.50" {
		t.Errorf("updated amount = %v", got)
	}

	rr = ts.do(t, http.MethodGet, "/api/ledger?from=2025-04-01&to=2025-04-30", nil, "")
	expectStatus(t, rr, http.StatusOK)
	list := decode[map[string]any](t, rr)
	if list["count"] != float64(1) || list["total"] != "41.50" || list["from"] != "2025-04-01" {
		t.Errorf("unexpected list: %v", list)
	}

	rr = ts.do(t, http.MethodGet, "/api/ledger/summary?from=2025-04-01", nil, "")
	expectStatus(t, rr, http.StatusOK)
	summary := decode[map[string]any](t, rr)
	if summary["total"] != "41.50" || summary["to"] != nil {
		t.Errorf("unexpected summary: %v", summary)
	}

	rr = ts.do(t, http.MethodDelete, target, nil, "")
	expectStatus(t, rr, http.StatusNoContent)

	rr = ts.do(t, http.MethodGet, target, nil, "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = ts.do(t, http.MethodGet, "/api/ledger/abc", nil, "")
	expectStatus(t, rr, http.StatusBadRequest)

	rr = ts.do(t, http.MethodGet, "/api/ledger?from=2025-13-01", nil, "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = ts.do(t, http.MethodPatch, target, nil, "")
	expectStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestStatementImportAndPreview(t *testing.T) {
	ts := newTestServer(t, Options{})
	data, err := os.ReadFile("../statement/testdata/chase_checking.csv")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	body, ct := multipartBody(t, "file", "january.csv", data)
	rr := ts.do(t, http.MethodPost, "/api/statements/preview?rows=2", body, ct)
	expectStatus(t, rr, http.StatusOK)
	preview := decode[map[string]any](t, rr)["preview"].(map[string]any)
	if preview["detected_format"] != "chase" || len(preview["rows"].([]any)) != 2 {
		t.Errorf("unexpected preview: %v", preview)
	}

	body, ct = multipartBody(t, "file", "january.csv", data)
	rr = ts.do(t, http.MethodPost, "/api/statements", body, ct)
	expectStatus(t, rr, http.StatusCreated)
	imp := decode[map[string]any](t, rr)
	if imp["inserted"] != float64(6) || imp["format"] != "chase" {
		t.Errorf("unexpected import: %v", imp)
	}

	body, ct = multipartBody(t, "file", "january.csv", data)
	rr = ts.do(t, http.MethodPost, "/api/statements", body, ct)
	expectStatus(t, rr, http.StatusCreated)
	if got := decode[map[string]any](t, rr)["duplicates"]; got != float64(6) {
		t.Errorf("duplicates = %v, want 6", got)
	}

	rr = ts.do(t, http.MethodGet, "/api/bank-transactions?from=2025-01-01&to=2025-01-31", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["count"]; got != float64(6) {
		t.Errorf("transaction count = %v, want 6", got)
	}

	rr = ts.do(t, http.MethodGet, "/api/statements", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["count"]; got != float64(2) {
		t.Errorf("import count = %v, want 2", got)
	}

	body, ct = multipartBody(t, "file", "january.csv", data)
	rr = ts.do(t, http.MethodPost, "/api/statements?format=quicken", body, ct)
	expectStatus(t, rr, http.StatusBadRequest)

	body, ct = multipartBody(t, "statement", "january.csv", data)
	rr = ts.do(t, http.MethodPost, "/api/statements", body, ct)
	expectStatus(t, rr, http.StatusBadRequest)

	bad := []byte("Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\nDEBIT,not-a-date,COFFEE,-4.00,DEBIT_CARD,1.00,\n")
	body, ct = multipartBody(t, "file", "bad.csv", bad)
	rr = ts.do(t, http.MethodPost, "/api/statements", body, ct)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestReceiptSubmit(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.doJSON(t, http.MethodPost, "/api/receipts?sync=true", map[string]string{"text": groceryText})
	expectStatus(t, rr, http.StatusCreated)
	resp := decode[receiptJSON](t, rr)
	if resp.Receipt["status"] != "extracted" || resp.LedgerEntry["vendor"] != "Trader Joe's" || resp.LedgerEntry["amount"] != "4.84" {
		t.Errorf("unexpected sync response: %s", rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/receipts", strings.NewReader(groceryText), "text/plain; charset=utf-8")
	expectStatus(t, rr, http.StatusAccepted)
	resp = decode[receiptJSON](t, rr)
	if resp.Receipt["status"] != "pending" || resp.LedgerEntry != nil {
		t.Errorf("unexpected async response: %s", rr.Body.String())
	}
	id := int64(resp.Receipt["id"].(float64))

	rr = ts.do(t, http.MethodGet, "/api/receipts/"+itoa(id), nil, "")
	expectStatus(t, rr, http.StatusOK)

	rr = ts.do(t, http.MethodPost, "/api/receipts/"+itoa(id)+"/extract", nil, "")
	expectStatus(t, rr, http.StatusOK)
	resp = decode[receiptJSON](t, rr)
	if resp.Receipt["status"] != "extracted" || resp.LedgerEntry["amount"] != "4.84" {
		t.Errorf("unexpected extract response: %s", rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/api/receipts", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["count"]; got != float64(2) {
		t.Errorf("receipt count = %v, want 2", got)
	}

	rr = ts.do(t, http.MethodGet, "/api/receipts/999", nil, "")
	expectStatus(t, rr, http.StatusNotFound)
}

type receiptJSON struct {
	Receipt     map[string]any `json:"receipt"`
	LedgerEntry map[string]any `json:"ledger_entry"`
	Error       string         `json:"error"`
	Code        string         `json:"code"`
}

func TestReceiptSubmitRejects(t *testing.T) {
	ts := newTestServer(t, Options{})

	body, ct := multipartBody(t, "file", "blob.bin", []byte{0x00, 0x01, 0x02, 0xff})
	rr := ts.do(t, http.MethodPost, "/api/receipts", body, ct)
	expectStatus(t, rr, http.StatusBadRequest)

	big := make([]byte, 8192)
	copy(big, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	body, ct = multipartBody(t, "file", "huge.png", big)
	rr = ts.do(t, http.MethodPost, "/api/receipts", body, ct)
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)

	rr = ts.doJSON(t, http.MethodPost, "/api/receipts?sync=1", map[string]string{"text": "nothing useful here"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	resp := decode[receiptJSON](t, rr)
	if resp.Receipt["status"] != "failed" || resp.Code == "" {
		t.Errorf("unexpected failure response: %s", rr.Body.String())
	}

	rr = ts.doJSON(t, http.MethodPost, "/api/receipts", map[string]string{"txt": groceryText})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestUploadLimit(t *testing.T) {
	ts := newTestServer(t, Options{MaxUploadBytes: 1024})

	data := bytes.Repeat([]byte("a,b,c\n"), 1024)
	body, ct := multipartBody(t, "file", "big.csv", data)
	rr := ts.do(t, http.MethodPost, "/api/statements", body, ct)
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)
}

func TestReconcileEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	data, err := os.ReadFile("../statement/testdata/chase_checking.csv")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	body, ct := multipartBody(t, "file", "january.csv", data)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/statements", body, ct), http.StatusCreated)

	rr := ts.doJSON(t, http.MethodPost, "/api/ledger", map[string]any{
		"vendor": "GitHub", "amount": "4.00", "date": "2025-01-03",
	})
	expectStatus(t, rr, http.StatusCreated)

	rr = ts.doJSON(t, http.MethodPost, "/api/reconcile", map[string]string{"from": "2025-01-01", "to": "2025-01-31"})
	expectStatus(t, rr, http.StatusCreated)
	run := decode[map[string]any](t, rr)
	summary := run["summary"].(map[string]any)
	if summary["matched"] != float64(1) || summary["bank_only"] != float64(5) || summary["ledger_only"] != float64(0) {
		t.Errorf("unexpected summary: %v", summary)
	}
	runID := run["id"].(string)

	rr = ts.do(t, http.MethodPost, "/api/reconcile", nil, "")
	expectStatus(t, rr, http.StatusCreated)

	rr = ts.do(t, http.MethodGet, "/api/reconciliations", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["count"]; got != float64(2) {
		t.Errorf("run count = %v, want 2", got)
	}

	rr = ts.do(t, http.MethodGet, "/api/reconciliations/"+runID, nil, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["id"]; got != runID {
		t.Errorf("run id = %v, want %s", got, runID)
	}

	rr = ts.do(t, http.MethodGet, "/api/reconciliations/missing", nil, "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = ts.doJSON(t, http.MethodPost, "/api/reconcile", map[string]string{"from": "2025-02-01", "to": "2025-01-01"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

type fakeCategories struct {
	calls int
	cats  []string
	err   error
}

func (f *fakeCategories) Categories(context.Context) ([]string, error) {
	f.calls++
	return f.cats, f.err
}

func TestCategories(t *testing.T) {
	lister := &fakeCategories{cats: []string{"Fuel", "Groceries"}}
	ts := newTestServer(t, Options{
		Categories:        lister,
		CategoryCache:     cache.NewLRUCache[[]string](4, time.Minute),
		DefaultCategories: []string{"Other"},
	})

	for _, wantSource := range []string{"backend", "cache"} {
		rr := ts.do(t, http.MethodGet, "/api/categories", nil, "")
		expectStatus(t, rr, http.StatusOK)
		if got := decode[map[string]any](t, rr)["source"]; got != wantSource {
			t.Errorf("source = %v, want %s", got, wantSource)
		}
	}
	if lister.calls != 1 {
		t.Errorf("lister called %d times, want 1", lister.calls)
	}

	broken := newTestServer(t, Options{
		Categories:        &fakeCategories{err: errors.New("sheet unavailable")},
		DefaultCategories: []string{"Other"},
	})
	rr := broken.do(t, http.MethodGet, "/api/categories", nil, "")
	expectStatus(t, rr, http.StatusOK)
	body := decode[map[string]any](t, rr)
	if body["source"] != "default" || len(body["categories"].([]any)) != 1 {
		t.Errorf("unexpected fallback: %v", body)
	}
}

func TestCategories_AdapterDefaultsAreReported(t *testing.T) {
	remote := &fakeCategories{err: errors.New("sheet unavailable")}
	ts := newTestServer(t, Options{
		Categories:        adapters.NewLedgerCategories(nil, remote, []string{"Other", "Fuel"}),
		CategoryCache:     cache.NewLRUCache[[]string](4, time.Minute),
		DefaultCategories: []string{"Other"},
	})

	for i := 0; i < 2; i++ {
		rr := ts.do(t, http.MethodGet, "/api/categories", nil, "")
		expectStatus(t, rr, http.StatusOK)
		body := decode[map[string]any](t, rr)
		if body["source"] != "default" || len(body["categories"].([]any)) != 2 {
			t.Errorf("request %d: unexpected body %v", i, body)
		}
	}
	if remote.calls != 2 {
		t.Errorf("remote called %d times, want 2", remote.calls)
	}
}

func TestRateLimitOnlyMutating(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rr := ts.doJSON(t, http.MethodPost, "/api/ledger", map[string]any{"vendor": "x", "amount": "1.00", "date": "2025-01-01"})
		expectStatus(t, rr, http.StatusCreated)
	}
	rr := ts.doJSON(t, http.MethodPost, "/api/ledger", map[string]any{"vendor": "x", "amount": "1.00", "date": "2025-01-01"})
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if body := decode[ErrorBody](t, rr); body.Error == "" {
		t.Error("expected JSON error body")
	}

	for i := 0; i < 5; i++ {
		expectStatus(t, ts.do(t, http.MethodGet, "/api/ledger", nil, ""), http.StatusOK)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	ts := newTestServer(t, Options{CORSAllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/api/ledger", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("X-Request-ID", "client-req-0001")
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusOK)
	if got := rr.Header().Get("X-Request-ID"); got != "client-req-0001" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	rr = ts.do(t, http.MethodGet, "/debug/stats", nil, "")
	expectStatus(t, rr, http.StatusOK)
	stats := decode[map[string]any](t, rr)
	if stats["requests"].(map[string]any)["total_requests"].(float64) < 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
