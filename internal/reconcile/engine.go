// Package reconcile pairs ledger entries with bank transactions.
//
// A ledger entry and a bank transaction match when their absolute amounts
// differ by at most AmountTolerance and their dates by at most DateTolerance,
// both bounds inclusive. Every entry and every transaction is used at most once.
package reconcile

import (
	"time"

	"receipts/internal/core"
)

const (
	DefaultAmountToleranceCents = 1
	DefaultDateTolerance        = 24 * time.Hour
)

type Options struct {
	AmountTolerance core.Money    `json:"amount_tolerance"`
	DateTolerance   time.Duration `json:"date_tolerance_ns"`
}

func DefaultOptions() Options {
	return Options{
		AmountTolerance: core.Money{Cents: DefaultAmountToleranceCents},
		DateTolerance:   DefaultDateTolerance,
	}
}

type Match struct {
	LedgerEntry      core.LedgerEntry     `json:"ledger_entry"`
	BankTransaction  core.BankTransaction `json:"bank_transaction"`
	AmountDifference core.Money           `json:"amount_difference"`
	DateDifference   time.Duration        `json:"date_difference_ns"`
	Confidence       float64              `json:"confidence"`
	Reasons          []string             `json:"reasons"`
}

type Summary struct {
	LedgerCount      int        `json:"ledger_count"`
	BankCount        int        `json:"bank_count"`
	Matched          int        `json:"matched"`
	LedgerOnly       int        `json:"ledger_only"`
	BankOnly         int        `json:"bank_only"`
	MatchedAmount    core.Money `json:"matched_amount"`
	LedgerOnlyAmount core.Money `json:"ledger_only_amount"`
	BankOnlyAmount   core.Money `json:"bank_only_amount"`
	MatchRate        float64    `json:"match_rate"`
}

type Result struct {
	Matches    []Match                `json:"matches"`
	LedgerOnly []core.LedgerEntry     `json:"ledger_only"`
	BankOnly   []core.BankTransaction `json:"bank_only"`
	Summary    Summary                `json:"summary"`
}

type Engine struct {
	opts Options
}

// NewEngine returns an engine; negative tolerances are treated as zero.
func NewEngine(opts Options) *Engine {
	if opts.AmountTolerance.Cents < 0 {
		opts.AmountTolerance = core.Money{}
	}
	if opts.DateTolerance < 0 {
		opts.DateTolerance = 0
	}
	return &Engine{opts: opts}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Reconcile walks the ledger in input order. For each entry it picks, among
// the bank transactions not yet matched, the one with the smallest amount
// difference, then the smallest date difference, then the earliest position.
// Leftovers keep their input order.
func (e *Engine) Reconcile(ledger []core.LedgerEntry, bank []core.BankTransaction) Result {
	used := make([]bool, len(bank))
	res := Result{
		Matches:    []Match{},
		LedgerOnly: []core.LedgerEntry{},
		BankOnly:   []core.BankTransaction{},
	}

	for _, entry := range ledger {
		best := -1
		var bestAmt int64
		var bestDate time.Duration

		for j, tx := range bank {
			if used[j] {
				continue
			}
			amt, dd, ok := e.candidate(entry, tx)
			if !ok {
				continue
			}
			if best < 0 || amt < bestAmt || (amt == bestAmt && dd < bestDate) {
				best, bestAmt, bestDate = j, amt, dd
			}
		}

		if best < 0 {
			res.LedgerOnly = append(res.LedgerOnly, entry)
			continue
		}
		used[best] = true
		res.Matches = append(res.Matches, e.newMatch(entry, bank[best], bestAmt, bestDate))
	}

	for j, tx := range bank {
		if !used[j] {
			res.BankOnly = append(res.BankOnly, tx)
		}
	}

	res.Summary = summarize(res, len(ledger), len(bank))
	return res
}

// Reconcile runs a one-off engine with opts.
func Reconcile(ledger []core.LedgerEntry, bank []core.BankTransaction, opts Options) Result {
	return NewEngine(opts).Reconcile(ledger, bank)
}

func (e *Engine) candidate(entry core.LedgerEntry, tx core.BankTransaction) (int64, time.Duration, bool) {
	amt := absInt(entry.Amount.Abs().Cents - tx.Amount.Abs().Cents)
	if amt > e.opts.AmountTolerance.Cents {
		return 0, 0, false
	}
	dd := entry.Date.Sub(tx.Date)
	if dd < 0 {
		dd = -dd
	}
	if dd > e.opts.DateTolerance {
		return 0, 0, false
	}
	return amt, dd, true
}

func (e *Engine) newMatch(entry core.LedgerEntry, tx core.BankTransaction, amt int64, dd time.Duration) Match {
	conf, reasons := score(entry, tx, amt, dd, e.opts)
	return Match{
		LedgerEntry:      entry,
		BankTransaction:  tx,
		AmountDifference: core.Money{Cents: amt},
		DateDifference:   dd,
		Confidence:       conf,
		Reasons:          reasons,
	}
}

// WithinRange drops bank-only rows dated outside [from, to] and recomputes
// the summary. Matched rows are kept wherever they fall. Zero bounds are open.
func (r Result) WithinRange(from, to time.Time) Result {
	kept := make([]core.BankTransaction, 0, len(r.BankOnly))
	for _, b := range r.BankOnly {
		if !from.IsZero() && b.Date.Before(from) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		kept = append(kept, b)
	}
	r.BankOnly = kept
	r.Summary = summarize(r, r.Summary.LedgerCount, len(r.Matches)+len(kept))
	return r
}

func summarize(res Result, ledgerCount, bankCount int) Summary {
	s := Summary{
		LedgerCount: ledgerCount,
		BankCount:   bankCount,
		Matched:     len(res.Matches),
		LedgerOnly:  len(res.LedgerOnly),
		BankOnly:    len(res.BankOnly),
	}
	for _, m := range res.Matches {
		s.MatchedAmount = s.MatchedAmount.Add(m.LedgerEntry.Amount.Abs())
	}
	for _, l := range res.LedgerOnly {
		s.LedgerOnlyAmount = s.LedgerOnlyAmount.Add(l.Amount.Abs())
	}
	for _, b := range res.BankOnly {
		s.BankOnlyAmount = s.BankOnlyAmount.Add(b.Amount.Abs())
	}
	if ledgerCount > 0 {
		s.MatchRate = round2(float64(s.Matched) / float64(ledgerCount))
	}
	return s
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
