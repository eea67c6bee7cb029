//go:build tesseract

package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR runs Tesseract through cgo. Build with -tags tesseract and
// install libtesseract plus the language data.
type TesseractOCR struct {
	language string
}

// NewOCR returns the Tesseract reader for the given language.
func NewOCR(language string) OCR {
	if language == "" {
		language = DefaultOCRLanguage
	}
	return &TesseractOCR{language: language}
}

func (t *TesseractOCR) Text(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("load receipt image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize receipt text: %w", err)
	}
	return text, nil
}
