// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for parsing and validating request data:
// date ranges, path ids, JSON bodies and multipart uploads.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"receipts/internal/core"
	"receipts/internal/services"
)

// ErrBadRequest marks malformed requests: unparsable bodies, missing form
// fields or bad query parameters.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// DateRange is an inclusive [From, To] filter. Zero values are open bounds.
type DateRange struct {
	From core.Date
	To   core.Date
}

// ParseDateRange reads optional "from" and "to" query parameters in
// YYYY-MM-DD format.
func ParseDateRange(query url.Values) (DateRange, error) {
	var dr DateRange
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return DateRange{}, fmt.Errorf("from %q: %w", v, core.ErrInvalidDate)
		}
		dr.From = d
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return DateRange{}, fmt.Errorf("to %q: %w", v, core.ErrInvalidDate)
		}
		dr.To = d
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From.Time) {
		return DateRange{}, fmt.Errorf("range %s..%s: %w", dr.From, dr.To, core.ErrInvalidDate)
	}
	return dr, nil
}

// PathID parses the {id} path value as a positive integer.
func PathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return id, nil
}

// ParseIntParam reads an optional positive integer query parameter.
func ParseIntParam(query url.Values, name string, def, max int) int {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// ParseBoolParam reads an optional boolean query parameter.
func ParseBoolParam(query url.Values, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(query.Get(name)))
	return b
}

// DecodeJSON decodes the request body into v, rejecting unknown fields and
// trailing data. An empty body leaves v untouched when allowEmpty is set.
func DecodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("invalid JSON body: trailing data")
	}
	return nil
}

// IsMultipart reports whether the request carries a multipart form.
func IsMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

// Upload is a file read from a multipart form.
type Upload struct {
	FileName string
	Data     []byte
}

// ReadUpload reads the named multipart file field fully into memory,
// rejecting files larger than maxBytes.
func ReadUpload(r *http.Request, field string, maxBytes int64) (Upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return Upload{}, err
		}
		return Upload{}, badRequest("invalid multipart form: %v", err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, badRequest("missing %q file field", field)
		}
		return Upload{}, badRequest("read %q: %v", field, err)
	}
	defer file.Close()

	if header.Size > maxBytes {
		return Upload{}, fmt.Errorf("%q is %d bytes, limit %d: %w", header.Filename, header.Size, maxBytes, services.ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return Upload{}, fmt.Errorf("%q exceeds %d bytes: %w", header.Filename, maxBytes, services.ErrTooLarge)
	}
	return Upload{FileName: uploadName(header), Data: data}, nil
}

func uploadName(h *multipart.FileHeader) string {
	if h == nil {
		return ""
	}
	return sanitizeInput(h.Filename)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
