package http

import (
	"net/http"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/reconcile"
)

type reconcileRequest struct {
	From core.Date `json:"from"`
	To   core.Date `json:"to"`
}

// handleReconcile runs a reconciliation. The body is optional; missing
// bounds are open. Query parameters from/to are accepted as well.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := reconcileRequest{From: dr.From, To: dr.To}
	if err := DecodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	run, err := s.reconcile.Reconcile(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Reconciliation completed",
		log.FieldComponent, log.ComponentReconcile,
		log.FieldRunID, run.ID,
		"matched", run.Summary.Matched,
		"ledger_only", run.Summary.LedgerOnly,
		"bank_only", run.Summary.BankOnly)
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r.URL.Query(), "limit", 20, 200)
	runs, err := s.reconcile.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []reconcile.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.reconcile.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
