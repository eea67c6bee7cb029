package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"receipts/internal/core"
)

const DefaultTimeout = 60 * time.Second

// PipelineConfig configures the extraction pipeline.
type PipelineConfig struct {
	// Extractors are tried in order before falling back to OCR and the heuristic.
	Extractors []Extractor
	OCR        OCR
	Retry      RetryConfig
	// Timeout bounds each call to an AI extractor.
	Timeout time.Duration
}

// Pipeline runs the configured AI extractors with retry and falls back to
// OCR plus the heuristic parser when none of them succeeds.
type Pipeline struct {
	extractors []Extractor
	ocr        OCR
	heuristic  *HeuristicExtractor
	retry      RetryConfig
	timeout    time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.OCR == nil {
		cfg.OCR = NewOCR(DefaultOCRLanguage)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Pipeline{
		extractors: cfg.Extractors,
		ocr:        cfg.OCR,
		heuristic:  NewHeuristicExtractor(),
		retry:      cfg.Retry,
		timeout:    cfg.Timeout,
	}
}

// Methods lists the extraction methods in the order they are tried.
func (p *Pipeline) Methods() []string {
	out := make([]string, 0, len(p.extractors)+1)
	for _, ex := range p.extractors {
		out = append(out, ex.Name())
	}
	return append(out, MethodHeuristic)
}

func (p *Pipeline) Extract(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 && strings.TrimSpace(in.Text) == "" {
		return nil, &ExtractionError{Code: ErrInvalidDocument, Message: "empty receipt"}
	}
	if strings.TrimSpace(in.Text) == "" {
		in.MimeType = in.mimeType()
		if !SupportedMimeType(in.MimeType) {
			return nil, &ExtractionError{
				Code:    ErrInvalidDocument,
				Message: fmt.Sprintf("receipt type %s", in.MimeType),
				Cause:   core.ErrUnsupportedReceipt,
			}
		}
	}

	var errs []error
	for _, ex := range p.extractors {
		start := time.Now()
		res, err := WithRetry(ctx, p.retry, func(ctx context.Context) (*Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			return ex.Extract(callCtx, in)
		})
		if err == nil {
			res.Method = ex.Name()
			slog.DebugContext(ctx, "Receipt extracted",
				"method", ex.Name(),
				"duration_ms", time.Since(start).Milliseconds(),
				"confidence", res.Confidence)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.WarnContext(ctx, "Extractor failed, trying next method",
			"method", ex.Name(),
			"code", CodeOf(err),
			"error", err)
		errs = append(errs, fmt.Errorf("%s: %w", ex.Name(), err))
	}

	text := in.text()
	if text == "" && in.IsImage() {
		ocrText, err := p.ocr.Text(ctx, in.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("ocr: %w", err))
		} else {
			text = ocrText
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, p.allFailed(errs)
	}

	res, err := p.heuristic.Extract(ctx, Input{Text: text})
	if err != nil {
		return nil, p.allFailed(append(errs, fmt.Errorf("%s: %w", MethodHeuristic, err)))
	}
	return res, nil
}

func (p *Pipeline) allFailed(errs []error) error {
	retryable := false
	for _, err := range errs {
		var extErr *ExtractionError
		if errors.As(err, &extErr) && extErr.Retryable {
			retryable = true
		}
	}
	return &ExtractionError{
		Code:      ErrAllMethodsFailed,
		Message:   "no extraction method could read the receipt",
		Retryable: retryable,
		Cause:     errors.Join(errs...),
	}
}
