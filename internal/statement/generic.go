package statement

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"receipts/internal/core"
)

var (
	dateHeaders        = []string{"date", "posted date", "posting date", "transaction date", "trans date", "booking date"}
	descriptionHeaders = []string{"description", "payee", "memo", "details", "name", "merchant", "narrative"}
	amountHeaders      = []string{"amount", "value", "transaction amount"}
	debitHeaders       = []string{"debit", "withdrawal", "withdrawals", "money out", "paid out"}
	creditHeaders      = []string{"credit", "deposit", "deposits", "money in", "paid in"}
	typeHeaders        = []string{"type", "transaction type"}
	referenceHeaders   = []string{"reference", "ref", "id", "transaction id", "fitid", "check or slip #"}
)

// GenericParser reads any CSV whose header names a date, a description and
// either an amount column or separate debit/credit columns.
type GenericParser struct{}

type columns struct {
	date, desc, amount, debit, credit, typ, ref int
}

func (p *GenericParser) Format() string { return "generic" }

func (p *GenericParser) Detect(header []string) bool {
	_, err := mapColumns(header)
	return err == nil
}

func (p *GenericParser) Parse(r io.Reader) ([]core.BankTransaction, error) {
	cr := newCSVReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols, err := mapColumns(normalizeHeader(header))
	if err != nil {
		return nil, err
	}

	var (
		txns []core.BankTransaction
		errs RowErrors
	)
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", row, err))
			continue
		}
		if blank(rec) {
			continue
		}
		txn, err := cols.parseRow(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", row, err))
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

func mapColumns(header []string) (columns, error) {
	cols := columns{
		date:   findColumn(header, dateHeaders),
		desc:   findColumn(header, descriptionHeaders),
		amount: findColumn(header, amountHeaders),
		debit:  findColumn(header, debitHeaders),
		credit: findColumn(header, creditHeaders),
		typ:    findColumn(header, typeHeaders),
		ref:    findColumn(header, referenceHeaders),
	}
	if cols.date < 0 || cols.desc < 0 {
		return cols, fmt.Errorf("missing date or description column: %w", core.ErrUnsupportedFormat)
	}
	if cols.amount < 0 && cols.debit < 0 && cols.credit < 0 {
		return cols, fmt.Errorf("missing amount column: %w", core.ErrUnsupportedFormat)
	}
	return cols, nil
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func (c columns) parseRow(rec []string) (core.BankTransaction, error) {
	date, err := ParseDate(field(rec, c.date))
	if err != nil {
		return core.BankTransaction{}, err
	}

	cents, err := c.amountCents(rec)
	if err != nil {
		return core.BankTransaction{}, err
	}

	desc := strings.TrimSpace(field(rec, c.desc))
	txn := core.BankTransaction{
		Date:        date,
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Type:        strings.TrimSpace(field(rec, c.typ)),
		Reference:   strings.TrimSpace(field(rec, c.ref)),
	}
	if txn.Type == "" {
		txn.Type = "CREDIT"
		if cents < 0 {
			txn.Type = "DEBIT"
		}
	}
	if txn.Reference == "" {
		txn.Reference = makeRef("generic", date, desc, cents)
	}
	if err := txn.Validate(); err != nil {
		return core.BankTransaction{}, err
	}
	return txn, nil
}

// amountCents reads either the single amount column or the debit/credit
// pair. Debit values are stored negative regardless of their printed sign.
func (c columns) amountCents(rec []string) (int64, error) {
	if c.amount >= 0 {
		raw := field(rec, c.amount)
		cents, err := core.ParseSignedAmount(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing amount %q: %w", raw, err)
		}
		return cents, nil
	}

	if raw := strings.TrimSpace(field(rec, c.debit)); raw != "" {
		cents, err := core.ParseSignedAmount(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing debit %q: %w", raw, err)
		}
		if cents > 0 {
			cents = -cents
		}
		if cents != 0 {
			return cents, nil
		}
	}
	if raw := strings.TrimSpace(field(rec, c.credit)); raw != "" {
		cents, err := core.ParseSignedAmount(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing credit %q: %w", raw, err)
		}
		if cents < 0 {
			cents = -cents
		}
		return cents, nil
	}
	return 0, core.ErrInvalidAmount
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
