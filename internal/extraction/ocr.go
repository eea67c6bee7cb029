package extraction

import "context"

const DefaultOCRLanguage = "eng"

// OCR reads the text printed on a receipt image.
type OCR interface {
	Text(ctx context.Context, image []byte) (string, error)
}

// OCRFunc adapts a function to the OCR interface.
type OCRFunc func(ctx context.Context, image []byte) (string, error)

func (f OCRFunc) Text(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
