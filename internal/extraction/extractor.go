// Package extraction turns receipt images and text into structured expense data.
//
// An AI extractor (OpenAI or Gemini) is tried first when configured. When it is
// unavailable or fails, images go through OCR and the resulting text is parsed by
// the regex-based heuristic extractor.
package extraction

import (
	"context"
	"strings"
	"time"

	"receipts/internal/core"
)

const (
	MethodOpenAI    = "openai"
	MethodGemini    = "gemini"
	MethodHeuristic = "heuristic"
)

// Input is a receipt to extract. Either Data or Text must be set.
type Input struct {
	Data     []byte
	MimeType string
	FileName string
	Text     string
}

// Result holds the fields extracted from one receipt.
type Result struct {
	Vendor      string     `json:"vendor"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Amount      core.Money `json:"amount"`
	Date        time.Time  `json:"date"`
	Confidence  float64    `json:"confidence"`
	Method      string     `json:"method"`
	RawText     string     `json:"raw_text,omitempty"`
}

// Extractor extracts structured data from a receipt.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Result, error)
	Name() string
}

// IsImage reports whether the input carries image bytes.
func (in Input) IsImage() bool {
	return strings.HasPrefix(in.mimeType(), "image/")
}

func (in Input) mimeType() string {
	if in.MimeType != "" {
		return in.MimeType
	}
	if len(in.Data) == 0 {
		return MimeText
	}
	return DetectMimeType(in.Data)
}

// text returns the receipt text if the input is textual.
func (in Input) text() string {
	if strings.TrimSpace(in.Text) != "" {
		return in.Text
	}
	if strings.HasPrefix(in.mimeType(), "text/") {
		return string(in.Data)
	}
	return ""
}

// LedgerEntry converts the result into an unsaved ledger entry.
// Missing dates fall back to fallbackDate and an empty vendor to "Unknown".
func (r *Result) LedgerEntry(fallbackDate time.Time) core.LedgerEntry {
	vendor := strings.TrimSpace(r.Vendor)
	if vendor == "" {
		vendor = "Unknown"
	}
	date := r.Date
	if date.IsZero() {
		date = fallbackDate
	}
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = "Receipt from " + vendor
	}
	return core.LedgerEntry{
		Vendor:      truncate(vendor, 200),
		Category:    truncate(strings.TrimSpace(r.Category), 200),
		Description: truncate(desc, 800),
		Amount:      r.Amount.Abs(),
		Date:        time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Source:      core.SourceReceipt,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
