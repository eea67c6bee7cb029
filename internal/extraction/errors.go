package extraction

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of extraction failure.
type ErrorCode string

const (
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrInvalidResponse     ErrorCode = "INVALID_RESPONSE"
	ErrInvalidDocument     ErrorCode = "INVALID_DOCUMENT"
	ErrNoAmountFound       ErrorCode = "NO_AMOUNT_FOUND"
	ErrAllMethodsFailed    ErrorCode = "ALL_METHODS_FAILED"
)

// ErrOCRUnavailable is returned by the OCR stub when the binary was built
// without Tesseract support.
var ErrOCRUnavailable = errors.New("ocr not available in this build")

// ExtractionError is a structured error for extraction failures.
type ExtractionError struct {
	Code              ErrorCode
	Message           string
	Method            string
	Retryable         bool
	SuggestedFallback string
	Cause             error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error is retryable.
func (e *ExtractionError) IsRetryable() bool {
	return e.Retryable
}

// IsRetryable reports whether err should be retried. Errors that are not
// ExtractionErrors are treated as transient.
func IsRetryable(err error) bool {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Retryable
	}
	return err != nil
}

// CodeOf returns the extraction error code carried by err, if any.
func CodeOf(err error) ErrorCode {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Code
	}
	return ""
}
