package http

import (
	"net/http"

	"receipts/internal/core"
	"receipts/internal/log"
)

// ledgerRequest is the create/update body. Amount accepts "12.34" or 12.34.
type ledgerRequest struct {
	Vendor      string     `json:"vendor"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Amount      core.Money `json:"amount"`
	Date        core.Date  `json:"date"`
}

func (req ledgerRequest) apply(e *core.LedgerEntry) {
	e.Vendor = sanitizeInput(req.Vendor)
	e.Category = sanitizeInput(req.Category)
	e.Description = sanitizeInput(req.Description)
	e.Amount = req.Amount
	e.Date = req.Date.Time
}

type ledgerListResponse struct {
	From    core.Date          `json:"from"`
	To      core.Date          `json:"to"`
	Count   int                `json:"count"`
	Total   core.Money         `json:"total"`
	Entries []core.LedgerEntry `json:"entries"`
}

func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.ledger.List(r.Context(), dr.From.Time, dr.To.Time)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ledgerListResponse{From: dr.From, To: dr.To, Count: len(entries), Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []core.LedgerEntry{}
	}
	for _, e := range entries {
		resp.Total = resp.Total.Add(e.Amount)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req ledgerRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	var entry core.LedgerEntry
	req.apply(&entry)
	saved, err := s.ledger.Create(r.Context(), entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.structLog.LogLedgerEntryCreated(r.Context(), saved)
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleUpdateLedger replaces the editable fields of an entry. Source and
// receipt link are kept.
func (s *Server) handleUpdateLedger(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.limitBody(w, r)
	var req ledgerRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.apply(&entry)
	updated, err := s.ledger.Update(r.Context(), entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Ledger entry updated",
		log.NewFields().
			WithComponent(log.ComponentLedger).
			WithOperation(log.OpUpdate).
			WithLedgerEntry(updated.ID, updated.Vendor, updated.Category, updated.Amount.Cents).
			ToSlice()...)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteLedger(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type summaryResponse struct {
	From core.Date `json:"from"`
	To   core.Date `json:"to"`
	core.LedgerSummary
}

func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.ledger.Summary(r.Context(), dr.From.Time, dr.To.Time)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{From: dr.From, To: dr.To, LedgerSummary: summary})
}
