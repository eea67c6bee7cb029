package statement

import (
	"fmt"
	"io"
	"strings"
	"time"

	"receipts/internal/core"
)

// ChaseParser parses Chase bank checking CSV exports.
type ChaseParser struct{}

const (
	chaseDateFormat = "01/02/2006"
	chaseNumFields  = 7
	chaseColDate    = 1
	chaseColDesc    = 2
	chaseColAmount  = 3
	chaseColType    = 4
)

func (p *ChaseParser) Format() string { return "chase" }

// Detect matches the "Details,Posting Date,Description,Amount,Type,..." header.
func (p *ChaseParser) Detect(header []string) bool {
	return len(header) == chaseNumFields &&
		header[0] == "details" &&
		header[chaseColDate] == "posting date" &&
		header[chaseColDesc] == "description" &&
		header[chaseColAmount] == "amount"
}

func (p *ChaseParser) Parse(r io.Reader) ([]core.BankTransaction, error) {
	cr := newCSVReader(r)
	cr.FieldsPerRecord = chaseNumFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading chase CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var (
		txns []core.BankTransaction
		errs RowErrors
	)
	for i, rec := range records[1:] {
		txn, err := parseChaseRow(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i+2, err))
			continue
		}
		txns = append(txns, txn)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	uniqueRefs(txns)
	return txns, nil
}

func parseChaseRow(rec []string) (core.BankTransaction, error) {
	date, err := time.Parse(chaseDateFormat, strings.TrimSpace(rec[chaseColDate]))
	if err != nil {
		return core.BankTransaction{}, fmt.Errorf("parsing date %q: %w", rec[chaseColDate], err)
	}

	cents, err := core.ParseSignedAmount(rec[chaseColAmount])
	if err != nil {
		return core.BankTransaction{}, fmt.Errorf("parsing amount %q: %w", rec[chaseColAmount], err)
	}

	desc := strings.TrimSpace(rec[chaseColDesc])
	return core.BankTransaction{
		Date:        date,
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Reference:   makeRef("chase", date, desc, cents),
		Type:        strings.TrimSpace(rec[chaseColType]),
	}, nil
}

// makeRef creates a reference like chase_20250103_GITHUBPROS_-400 for rows
// without one. The signed amount keeps different transactions with the same
// date and description apart across files.
func makeRef(prefix string, date time.Time, desc string, cents int64) string {
	tag := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, desc)
	if len(tag) > 10 {
		tag = tag[:10]
	}
	return fmt.Sprintf("%s_%s_%s_%d", prefix, date.Format("20060102"), strings.ToUpper(tag), cents)
}
