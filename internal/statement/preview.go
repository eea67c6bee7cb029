package statement

import (
	"errors"
	"fmt"
	"io"

	"receipts/internal/core"
)

const DefaultPreviewRows = 10

// Preview is the head of a CSV file, used to let a user confirm the layout
// before importing it.
type Preview struct {
	Headers        []string   `json:"headers"`
	Rows           [][]string `json:"rows"`
	TotalRows      int        `json:"total_rows"`
	DetectedFormat string     `json:"detected_format,omitempty"`
}

// BuildPreview reads up to maxRows data rows and counts the rest.
func (r *Registry) BuildPreview(in io.Reader, maxRows int) (*Preview, error) {
	if maxRows <= 0 {
		maxRows = DefaultPreviewRows
	}
	cr := newCSVReader(in)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.ErrEmptyStatement
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	p := &Preview{Headers: header, Rows: [][]string{}}
	if parser := r.Detect(normalizeHeader(header)); parser != nil {
		p.DetectedFormat = parser.Format()
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", p.TotalRows+2, err)
		}
		if blank(rec) {
			continue
		}
		p.TotalRows++
		if len(p.Rows) < maxRows {
			p.Rows = append(p.Rows, rec)
		}
	}
	return p, nil
}
