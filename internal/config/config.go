package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"receipts/internal/extraction"
)

const (
	ExportNone   = "none"
	ExportMemory = "memory"
	ExportSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Database and files
	SQLiteDBPath   string
	UploadDir      string
	MaxUploadBytes int64

	// AMQP (empty URL disables the queue)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Extraction
	Extractor            string
	OpenAIAPIKey         string
	OpenAIModel          string
	GeminiAPIKey         string
	GeminiModel          string
	OCRLanguage          string
	ExtractionTimeout    time.Duration
	ExtractionMaxRetries int
	ExtractionAttempts   int

	// Processor and worker
	ProcessorPollInterval time.Duration
	ProcessorBatchSize    int
	ProcessorConcurrency  int
	WorkerScanInterval    time.Duration

	// Reconciliation
	MatchAmountToleranceCents int
	MatchDateTolerance        time.Duration

	// Ledger export
	ExportBackend             string
	GoogleSpreadsheetID       string
	GoogleLedgerSheetName     string
	GoogleCategoriesSheetName string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string
	CategoriesFile            string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/receipts.db"),
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "receipts"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "receipt_jobs"),

		Extractor:            strings.ToLower(getEnv("EXTRACTOR", extraction.ProviderAuto)),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OCRLanguage:          getEnv("OCR_LANGUAGE", "eng"),
		ExtractionTimeout:    getEnvDuration("EXTRACTION_TIMEOUT", 60*time.Second),
		ExtractionMaxRetries: getEnvInt("EXTRACTION_MAX_RETRIES", 2),
		ExtractionAttempts:   getEnvInt("EXTRACTION_MAX_ATTEMPTS", 3),

		ProcessorPollInterval: getEnvDuration("PROCESSOR_POLL_INTERVAL", 10*time.Second),
		ProcessorBatchSize:    getEnvInt("PROCESSOR_BATCH_SIZE", 10),
		ProcessorConcurrency:  getEnvInt("PROCESSOR_CONCURRENCY", 4),
		WorkerScanInterval:    getEnvDuration("WORKER_SCAN_INTERVAL", 30*time.Second),

		MatchAmountToleranceCents: getEnvInt("MATCH_AMOUNT_TOLERANCE_CENTS", 1),
		MatchDateTolerance:        getEnvDuration("MATCH_DATE_TOLERANCE", 24*time.Hour),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleLedgerSheetName:     getEnv("GOOGLE_LEDGER_SHEET_NAME", "Ledger"),
		GoogleCategoriesSheetName: getEnv("GOOGLE_CATEGORIES_SHEET_NAME", "Categories"),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:  getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		CategoriesFile:            getEnv("CATEGORIES_FILE", ""),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	// Export to Sheets by default only when a spreadsheet is configured.
	defaultExport := ExportNone
	if cfg.GoogleSpreadsheetID != "" {
		defaultExport = ExportSheets
	}
	cfg.ExportBackend = strings.ToLower(getEnv("EXPORT_BACKEND", defaultExport))

	return cfg
}

// AMQPEnabled reports whether jobs go through the message queue.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Exporting reports whether ledger entries are exported anywhere.
func (c *Config) Exporting() bool {
	return c.ExportBackend != ExportNone
}

// ExtractionConfig maps the environment onto the extraction factory.
func (c *Config) ExtractionConfig() extraction.Config {
	return extraction.Config{
		Provider:     c.Extractor,
		OpenAIAPIKey: c.OpenAIAPIKey,
		OpenAIModel:  c.OpenAIModel,
		GeminiAPIKey: c.GeminiAPIKey,
		GeminiModel:  c.GeminiModel,
		OCRLanguage:  c.OCRLanguage,
		Timeout:      c.ExtractionTimeout,
		MaxRetries:   c.ExtractionMaxRetries,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	if c.UploadDir == "" {
		errors = append(errors, "upload directory cannot be empty")
	}
	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be at least 1024", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate extractor selection
	validExtractors := []string{extraction.ProviderAuto, extraction.ProviderOpenAI, extraction.ProviderGemini, extraction.ProviderHeuristic}
	if !slices.Contains(validExtractors, c.Extractor) {
		errors = append(errors, fmt.Sprintf("invalid extractor '%s': must be one of %v", c.Extractor, validExtractors))
	}
	if c.Extractor == extraction.ProviderOpenAI && c.OpenAIAPIKey == "" {
		errors = append(errors, "OPENAI_API_KEY is required when EXTRACTOR=openai")
	}
	if c.Extractor == extraction.ProviderGemini && c.GeminiAPIKey == "" {
		errors = append(errors, "GEMINI_API_KEY is required when EXTRACTOR=gemini")
	}
	if c.ExtractionTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid extraction timeout %v: must be at least 1 second", c.ExtractionTimeout))
	}
	if c.ExtractionMaxRetries < 0 || c.ExtractionMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid extraction max retries %d: must be between 0 and 10", c.ExtractionMaxRetries))
	}
	if c.ExtractionAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid extraction max attempts %d: must be at least 1", c.ExtractionAttempts))
	}

	// Validate processor configuration
	if c.ProcessorBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid processor batch size %d: must be at least 1", c.ProcessorBatchSize))
	} else if c.ProcessorBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid processor batch size %d: must be at most 1000", c.ProcessorBatchSize))
	}
	if c.ProcessorConcurrency < 1 || c.ProcessorConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid processor concurrency %d: must be between 1 and 64", c.ProcessorConcurrency))
	}
	if c.ProcessorPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid processor poll interval %v: must be at least 1 second", c.ProcessorPollInterval))
	} else if c.ProcessorPollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid processor poll interval %v: must be at most 24 hours", c.ProcessorPollInterval))
	}
	if c.WorkerScanInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid worker scan interval %v: must be at least 1 second", c.WorkerScanInterval))
	}

	// Validate reconciliation tolerances
	if c.MatchAmountToleranceCents < 0 {
		errors = append(errors, fmt.Sprintf("invalid amount tolerance %d: must not be negative", c.MatchAmountToleranceCents))
	}
	if c.MatchDateTolerance < 0 {
		errors = append(errors, fmt.Sprintf("invalid date tolerance %v: must not be negative", c.MatchDateTolerance))
	}

	// Validate export backend
	validExports := []string{ExportNone, ExportMemory, ExportSheets}
	if !slices.Contains(validExports, c.ExportBackend) {
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of %v", c.ExportBackend, validExports))
	}
	if c.ExportBackend == ExportSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets export")
		}
		if c.GoogleLedgerSheetName == "" {
			errors = append(errors, "Google ledger sheet name is required when using sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
