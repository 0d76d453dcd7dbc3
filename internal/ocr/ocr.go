// Package ocr converts uploaded document bytes into plain text for the
// extraction providers.
package ocr

import (
	"bytes"
	"context"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-import/internal/config"
)

// ErrUnsupportedType is returned for content the converter cannot read.
var ErrUnsupportedType = eris.New("ocr: unsupported document type")

// Converter turns document bytes into text.
type Converter interface {
	ToText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Kind buckets a MIME type by how it is converted.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
	KindImage
)

// KindOf classifies mimeType, sniffing data when the type is missing or
// generic.
func KindOf(mimeType string, data []byte) Kind {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}

	switch {
	case mt == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "text/"), mt == "application/json", mt == "application/xml":
		return KindText
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return KindPDF
	case bytes.HasPrefix(data, []byte("\x89PNG")), bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return KindImage
	case len(data) > 0 && utf8.Valid(data):
		return KindText
	}
	return KindUnknown
}

// Router dispatches by document kind: text passes through, PDFs go to the
// PDF converter and images to the image converter when one is configured.
type Router struct {
	PDF   Converter
	Image Converter
}

// ToText implements Converter.
func (r *Router) ToText(ctx context.Context, data []byte, mimeType string) (string, error) {
	switch KindOf(mimeType, data) {
	case KindText:
		return decodeText(data), nil
	case KindPDF:
		if r.PDF == nil {
			return "", eris.Wrap(ErrUnsupportedType, "ocr: no PDF converter configured")
		}
		return r.PDF.ToText(ctx, data, "application/pdf")
	case KindImage:
		if r.Image == nil {
			return "", eris.Wrapf(ErrUnsupportedType, "ocr: images need the mistral provider (%s)", mimeType)
		}
		return r.Image.ToText(ctx, data, mimeType)
	default:
		return "", eris.Wrapf(ErrUnsupportedType, "ocr: %q", mimeType)
	}
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "")
}

// NewConverter builds the converter selected by cfg.
func NewConverter(cfg config.OCRConfig) (*Router, error) {
	switch cfg.Provider {
	case "local", "":
		return &Router{PDF: NewPdfToText(cfg.PdfToTextPath)}, nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		return &Router{PDF: m, Image: m}, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
