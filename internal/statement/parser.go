// Package statement parses bank statement CSV exports into bank transactions.
package statement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"receipts/internal/core"
)

// Parser converts a bank CSV file into BankTransactions.
type Parser interface {
	Parse(r io.Reader) ([]core.BankTransaction, error)
	Format() string
}

// detector is implemented by parsers that can recognise their own header row.
type detector interface {
	Detect(header []string) bool
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
	r.order = append(r.order, key)
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(strings.TrimSpace(format))]
}

// Formats lists registered format names, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Detect picks the most specific parser able to read a file with this
// header. Specific layouts are tried in reverse registration order so that
// the generic parser, registered first, is the last resort.
func (r *Registry) Detect(header []string) Parser {
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.parsers[r.order[i]]
		if d, ok := p.(detector); ok && d.Detect(header) {
			return p
		}
	}
	return nil
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&GenericParser{})
	r.Register(&ChaseParser{})
	return r
}

// Parse reads data with the named format, or detects the format from the
// header when format is empty. It returns the format actually used.
func (r *Registry) Parse(data []byte, format string) ([]core.BankTransaction, string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", core.ErrEmptyStatement
	}

	var p Parser
	if strings.TrimSpace(format) != "" {
		p = r.Get(format)
		if p == nil {
			return nil, "", fmt.Errorf("format %q: %w", format, core.ErrUnsupportedFormat)
		}
	} else {
		header, err := readHeader(bytes.NewReader(data))
		if err != nil {
			return nil, "", err
		}
		p = r.Detect(header)
		if p == nil {
			return nil, "", fmt.Errorf("header %v: %w", header, core.ErrUnsupportedFormat)
		}
	}

	txns, err := p.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, p.Format(), err
	}
	if len(txns) == 0 {
		return nil, p.Format(), core.ErrEmptyStatement
	}
	return txns, p.Format(), nil
}

func readHeader(r io.Reader) ([]string, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.ErrEmptyStatement
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return normalizeHeader(header), nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

// uniqueRefs suffixes repeated references (_2, _3, ...) so two identical
// purchases on the same day survive while re-importing a file stays idempotent.
func uniqueRefs(txns []core.BankTransaction) {
	seen := make(map[string]int, len(txns))
	for i := range txns {
		ref := txns[i].Reference
		seen[ref]++
		if n := seen[ref]; n > 1 {
			txns[i].Reference = fmt.Sprintf("%s_%d", ref, n)
		}
	}
}

// RowErrors collects per-row failures so a caller sees every bad line at once.
type RowErrors []error

func (e RowErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e RowErrors) Unwrap() []error {
	return e
}
