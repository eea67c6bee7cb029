package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderAuto      = "auto"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderHeuristic = "heuristic"
)

// Config selects and configures extractors.
type Config struct {
	Provider     string
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
	OCRLanguage  string
	Timeout      time.Duration
	MaxRetries   int
}

// NewFromConfig builds a pipeline for the configured provider. In auto mode
// every extractor with an API key is used, OpenAI first; with no keys only the
// heuristic runs.
func NewFromConfig(ctx context.Context, cfg Config) (*Pipeline, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAuto
	}

	var extractors []Extractor
	addOpenAI := func() {
		extractors = append(extractors, NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	addGemini := func() error {
		g, err := NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		extractors = append(extractors, g)
		return nil
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("extractor %q requires OPENAI_API_KEY", provider)
		}
		addOpenAI()
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("extractor %q requires GEMINI_API_KEY", provider)
		}
		if err := addGemini(); err != nil {
			return nil, err
		}
	case ProviderAuto:
		if cfg.OpenAIAPIKey != "" {
			addOpenAI()
		}
		if cfg.GeminiAPIKey != "" {
			if err := addGemini(); err != nil {
				return nil, err
			}
		}
	case ProviderHeuristic:
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Provider)
	}

	retry := DefaultRetryConfig
	if cfg.MaxRetries >= 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return NewPipeline(PipelineConfig{
		Extractors: extractors,
		OCR:        NewOCR(cfg.OCRLanguage),
		Retry:      retry,
		Timeout:    cfg.Timeout,
	}), nil
}
