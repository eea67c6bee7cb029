package extraction

import (
	"encoding/json"
	"math"
	"strings"

	"receipts/internal/core"
)

// receiptPrompt is shared by every AI extractor so their output decodes the same way.
const receiptPrompt = `You read purchase receipts. Extract the purchase and answer with one JSON object only, with these keys:
"vendor": the merchant name,
"category": one of Groceries, Dining, Transportation, Fuel, Travel, Office, Utilities, Entertainment, Health, Shopping, Software, Other,
"description": a short summary of what was bought,
"total": the final amount paid as a number,
"date": the purchase date as YYYY-MM-DD,
"confidence": a number between 0 and 1.
Use null for anything you cannot read.`

const defaultAIConfidence = 0.9

type aiResponse struct {
	Vendor      string     `json:"vendor"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Total       core.Money `json:"total"`
	Date        string     `json:"date"`
	Confidence  *float64   `json:"confidence"`
}

// decodeAIResponse parses the JSON answer of an AI extractor. Models sometimes
// wrap JSON in markdown fences, which are stripped first.
func decodeAIResponse(method, raw string) (*Result, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var resp aiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &ExtractionError{
			Code:              ErrInvalidResponse,
			Message:           "decode model response",
			Method:            method,
			Retryable:         true,
			SuggestedFallback: MethodHeuristic,
			Cause:             err,
		}
	}
	if resp.Total.Cents == 0 {
		return nil, &ExtractionError{
			Code:              ErrNoAmountFound,
			Message:           "model response has no total",
			Method:            method,
			SuggestedFallback: MethodHeuristic,
		}
	}

	res := &Result{
		Vendor:      strings.TrimSpace(resp.Vendor),
		Category:    strings.TrimSpace(resp.Category),
		Description: strings.TrimSpace(resp.Description),
		Amount:      resp.Total.Abs(),
		Date:        parseFlexibleDate(resp.Date),
		Confidence:  defaultAIConfidence,
		Method:      method,
	}
	if resp.Confidence != nil {
		res.Confidence = math.Max(0, math.Min(1, *resp.Confidence))
	}
	if info, ok := LookupMerchant(res.Vendor); ok {
		res.Vendor = info.Name
		if res.Category == "" || strings.EqualFold(res.Category, "other") {
			res.Category = info.Category
		}
	}
	if res.Category == "" {
		res.Category = Categorize(res.Vendor + " " + res.Description)
	}
	return res, nil
}
