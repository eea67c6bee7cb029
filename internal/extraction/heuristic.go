package extraction

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"receipts/internal/core"
)

// HeuristicExtractor parses receipt text with regular expressions. It is the
// fallback when no AI extractor is configured or all of them failed.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

func (h *HeuristicExtractor) Name() string { return MethodHeuristic }

var (
	amountRe = regexp.MustCompile(`(?:\$|USD\s?)?\s*(\d{1,3}(?:,\d{3})+|\d+)\.(\d{2})\b`)

	dateRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`),
		regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})\b`),
		regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+\d{4})\b`),
	}

	phoneRe   = regexp.MustCompile(`\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}`)
	urlRe     = regexp.MustCompile(`(?i)(https?://|www\.|\.com\b)`)
	lettersRe = regexp.MustCompile(`[A-Za-z]`)
)

// dateFormats to try when parsing extracted dates. US month-first order
// comes before day-first for ambiguous numeric dates.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	"1-2-06",
	"2/1/2006",
	"2-1-2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// totalKeywords in priority order. A line matching an earlier keyword wins.
var totalKeywords = []string{"grand total", "amount due", "balance due", "total due", "total"}

// notTotalKeywords mark lines that mention "total" but are not the amount paid.
var notTotalKeywords = []string{"subtotal", "sub total", "sub-total", "total tax", "total savings", "total items", "total discount"}

// vendorSkipWords mark header lines that are not the merchant name.
var vendorSkipWords = []string{"receipt", "welcome", "invoice", "tel:", "phone", "thank", "order", "customer copy"}

func (h *HeuristicExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := in.text()
	if strings.TrimSpace(text) == "" {
		return nil, &ExtractionError{
			Code:    ErrInvalidDocument,
			Message: "no receipt text to parse",
			Method:  MethodHeuristic,
		}
	}

	lines := splitLines(text)
	amount, labelled := findTotal(lines)
	if amount <= 0 {
		return nil, &ExtractionError{
			Code:    ErrNoAmountFound,
			Message: "no amount found in receipt text",
			Method:  MethodHeuristic,
		}
	}

	res := &Result{
		Amount:  core.Money{Cents: amount},
		Date:    findDate(text),
		Method:  MethodHeuristic,
		RawText: text,
	}

	head := strings.Join(lines[:min(len(lines), 5)], "\n")
	if info, ok := LookupMerchant(head); ok {
		res.Vendor = info.Name
		res.Category = info.Category
	} else {
		res.Vendor = NormalizeMerchant(findVendor(lines)).Name
		res.Category = Categorize(text)
	}

	score := 0.3
	if labelled {
		score += 0.2
	}
	if !res.Date.IsZero() {
		score += 0.2
	}
	if res.Vendor != "" {
		score += 0.15
	}
	if res.Category != "" {
		score += 0.15
	}
	res.Confidence = math.Min(1, math.Round(score*100)/100)
	return res, nil
}

func splitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// findTotal returns the amount paid in cents and whether it came from a
// labelled total line. Without a label the largest amount on the receipt is used.
func findTotal(lines []string) (int64, bool) {
	for _, kw := range totalKeywords {
		var best int64
		for i, line := range lines {
			lower := strings.ToLower(line)
			if !strings.Contains(lower, kw) || containsAny(lower, notTotalKeywords) {
				continue
			}
			amounts := lineAmounts(line)
			if len(amounts) == 0 && i+1 < len(lines) {
				amounts = lineAmounts(lines[i+1])
			}
			if len(amounts) > 0 && amounts[len(amounts)-1] > best {
				best = amounts[len(amounts)-1]
			}
		}
		if best > 0 {
			return best, true
		}
	}

	var largest int64
	for _, line := range lines {
		for _, a := range lineAmounts(line) {
			if a > largest {
				largest = a
			}
		}
	}
	return largest, false
}

func lineAmounts(line string) []int64 {
	var out []int64
	for _, m := range amountRe.FindAllStringSubmatch(line, -1) {
		whole := strings.ReplaceAll(m[1], ",", "")
		cents, err := core.ParseDecimalToCents(whole + "." + m[2])
		if err != nil {
			continue
		}
		out = append(out, cents)
	}
	return out
}

func findDate(text string) time.Time {
	for _, re := range dateRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if t := parseFlexibleDate(m[1]); !t.IsZero() {
				return t
			}
		}
	}
	return time.Time{}
}

// parseFlexibleDate returns the zero time when s matches no known format or
// falls outside a plausible range.
func parseFlexibleDate(s string) time.Time {
	s = strings.NewReplacer(".", "", ",", "").Replace(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	for _, format := range dateFormats {
		t, err := time.Parse(format, s)
		if err != nil {
			continue
		}
		if t.Year() < 2000 || t.Year() > 2100 {
			continue
		}
		return t
	}
	return time.Time{}
}

func findVendor(lines []string) string {
	for _, line := range lines[:min(len(lines), 6)] {
		lower := strings.ToLower(line)
		if len(lettersRe.FindAllString(line, -1)) < 3 {
			continue
		}
		if containsAny(lower, vendorSkipWords) || phoneRe.MatchString(line) || urlRe.MatchString(line) {
			continue
		}
		if amountRe.MatchString(line) || !findDate(line).IsZero() {
			continue
		}
		return strings.Trim(line, "*=-_ ")
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
