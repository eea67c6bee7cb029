package extraction

import (
	"bytes"
	"unicode/utf8"
)

const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
	MimeText = "text/plain"

	mimeUnknown = "application/octet-stream"
)

// DetectMimeType sniffs the receipt type from its leading bytes.
func DetectMimeType(data []byte) string {
	switch {
	case len(data) == 0:
		return mimeUnknown
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return MimePDF
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return MimePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return MimeJPEG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return MimeGIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return MimeWebP
	}

	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	// a cut in the middle of a multi-byte rune is still text
	for i := 0; i < 3 && len(sample) > 0 && !utf8.Valid(sample); i++ {
		sample = sample[:len(sample)-1]
	}
	if utf8.Valid(sample) && bytes.IndexByte(sample, 0) < 0 {
		return MimeText
	}
	return mimeUnknown
}

// SupportedMimeType reports whether receipts of this type can be processed.
func SupportedMimeType(mime string) bool {
	switch mime {
	case MimePDF, MimePNG, MimeJPEG, MimeGIF, MimeWebP, MimeText:
		return true
	}
	return false
}
