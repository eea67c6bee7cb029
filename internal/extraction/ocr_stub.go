//go:build !tesseract

package extraction

import "context"

type unavailableOCR struct{}

// NewOCR returns a reader that always fails with ErrOCRUnavailable. Build
// with -tags tesseract for real OCR.
func NewOCR(string) OCR {
	return unavailableOCR{}
}

func (unavailableOCR) Text(context.Context, []byte) (string, error) {
	return "", ErrOCRUnavailable
}
