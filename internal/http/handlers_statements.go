package http

import (
	"bytes"
	"net/http"
	"strings"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/statement"
)

// handleImportStatement imports a multipart "file" CSV. The optional
// format parameter skips detection.
func (s *Server) handleImportStatement(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	up, err := ReadUpload(r, "file", s.maxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	imp, err := s.imports.Import(r.Context(), up.FileName, format, bytes.NewReader(up.Data))
	if err != nil {
		if StatusForError(err) == http.StatusUnprocessableEntity {
			s.structLog.LogError(r.Context(), "Statement rejected", err, log.ComponentStatement, log.OpImport,
				log.NewFields().WithErrorType(log.ErrorTypeValidation))
		}
		writeError(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Statement imported",
		log.FieldComponent, log.ComponentStatement,
		log.FieldOperation, log.OpImport,
		log.FieldImportID, imp.ID,
		"format", imp.Format,
		"inserted", imp.Inserted,
		"duplicates", imp.Duplicates)
	writeJSON(w, http.StatusCreated, imp)
}

func (s *Server) handlePreviewStatement(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	up, err := ReadUpload(r, "file", s.maxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rows := ParseIntParam(r.URL.Query(), "rows", statement.DefaultPreviewRows, 100)
	preview, err := s.imports.Preview(bytes.NewReader(up.Data), rows)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": preview,
		"formats": s.imports.Formats(),
	})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r.URL.Query(), "limit", 50, 500)
	imports, err := s.imports.ListImports(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if imports == nil {
		imports = []core.StatementImport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": imports, "count": len(imports)})
}

func (s *Server) handleListBankTransactions(w http.ResponseWriter, r *http.Request) {
	dr, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	txns, err := s.imports.ListTransactions(r.Context(), dr.From.Time, dr.To.Time)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []core.BankTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":         dr.From,
		"to":           dr.To,
		"count":        len(txns),
		"transactions": txns,
	})
}
