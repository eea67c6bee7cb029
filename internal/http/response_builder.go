// Package http provides the JSON API server and its handlers.
//
// This file implements a small builder for JSON responses and the mapping
// from domain errors to status codes, so handlers never pick status codes
// for errors themselves.

package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"receipts/internal/core"
	"receipts/internal/extraction"
	"receipts/internal/middleware/trace"
	"receipts/internal/services"
	"receipts/internal/statement"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code,omitempty"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ErrorResponse creates an error response with the given status.
func ErrorResponse(r *http.Request, statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Data(ErrorBody{Error: message, RequestID: trace.FromRequest(r)})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusNotFound, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusUnprocessableEntity, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(r *http.Request) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusInternalServerError, "internal error")
}

// StatusForError maps a domain error to an HTTP status code.
func StatusForError(err error) int {
	var rowErrs statement.RowErrors
	var extErr *extraction.ExtractionError
	var maxBytesErr *http.MaxBytesError
	var csvErr *csv.ParseError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, core.ErrUnsupportedFormat),
		errors.Is(err, core.ErrUnsupportedReceipt):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrReceiptBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrEmptyVendor),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrFieldTooLong),
		errors.Is(err, core.ErrEmptyStatement),
		errors.As(err, &rowErrs),
		errors.As(err, &csvErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &extErr):
		if extErr.Retryable {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFor builds the error response for err. Server errors are logged and
// their message is not exposed to the client.
func ErrorFor(r *http.Request, err error) *JSONResponseBuilder {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.ErrorContext(r.Context(), "Request failed",
			"request_id", trace.FromRequest(r),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		return InternalServerError(r)
	}

	body := ErrorBody{Error: err.Error(), RequestID: trace.FromRequest(r)}
	if code := extraction.CodeOf(err); code != "" {
		body.Code = string(code)
	}
	var rowErrs statement.RowErrors
	if errors.As(err, &rowErrs) {
		body.Error = "statement has invalid rows"
		for _, e := range rowErrs {
			body.Details = append(body.Details, e.Error())
		}
	}
	return NewJSONResponse().Status(status).Data(body)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Data(v).Write(w)
}

// writeError writes the mapped error response for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ErrorFor(r, err).Write(w)
}
