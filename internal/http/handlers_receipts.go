package http

import (
	"io"
	"net/http"
	"strings"

	"receipts/internal/core"
	"receipts/internal/extraction"
	"receipts/internal/log"
	"receipts/internal/middleware/trace"
	"receipts/internal/services"
)

type receiptTextRequest struct {
	Text string `json:"text"`
}

type receiptResponse struct {
	Receipt     core.Receipt      `json:"receipt"`
	LedgerEntry *core.LedgerEntry `json:"ledger_entry,omitempty"`
	Error       string            `json:"error,omitempty"`
	Code        string            `json:"code,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
}

// handleSubmitReceipt accepts a multipart "file", a JSON {"text": ...} body
// or a text/plain body. With sync=true extraction runs before responding.
func (s *Server) handleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	up, err := s.readReceiptUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sync := ParseBoolParam(r.URL.Query(), "sync")
	rc, entry, err := s.receipts.Submit(r.Context(), up, sync)
	if err != nil {
		if rc.ID == 0 {
			writeError(w, r, err)
			return
		}
		// Stored but extraction failed; the receipt record explains why.
		writeJSON(w, StatusForError(err), receiptResponse{
			Receipt:   rc,
			Error:     err.Error(),
			Code:      string(extraction.CodeOf(err)),
			RequestID: trace.FromRequest(r),
		})
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Receipt submitted",
		log.NewFields().
			WithComponent(log.ComponentHTTP).
			WithReceipt(rc.ID, rc.Method).
			ToSlice()...)

	status := http.StatusAccepted
	if entry != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, receiptResponse{Receipt: rc, LedgerEntry: entry})
}

func (s *Server) readReceiptUpload(r *http.Request) (services.ReceiptUpload, error) {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case IsMultipart(r):
		u, err := ReadUpload(r, "file", s.maxUploadBytes)
		if err != nil {
			return services.ReceiptUpload{}, err
		}
		return services.ReceiptUpload{FileName: u.FileName, Data: u.Data}, nil
	case strings.HasPrefix(contentType, "text/plain"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return services.ReceiptUpload{}, err
		}
		return services.ReceiptUpload{Text: string(data)}, nil
	default:
		var req receiptTextRequest
		if err := DecodeJSON(r, &req, false); err != nil {
			return services.ReceiptUpload{}, err
		}
		return services.ReceiptUpload{Text: req.Text}, nil
	}
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r.URL.Query(), "limit", 50, 500)
	receipts, err := s.receipts.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if receipts == nil {
		receipts = []core.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts, "count": len(receipts)})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.receipts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// handleExtractReceipt re-runs extraction synchronously, updating the
// linked ledger entry when one exists.
func (s *Server) handleExtractReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.receipts.ExtractReceipt(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.receipts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Receipt: rc, LedgerEntry: &entry})
}
