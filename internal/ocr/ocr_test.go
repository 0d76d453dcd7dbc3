package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/resilience"
)

func TestNewConverter_Local(t *testing.T) {
	c, err := NewConverter(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, c.PDF)
	assert.Nil(t, c.Image)
}

func TestNewConverter_LocalDefault(t *testing.T) {
	c, err := NewConverter(config.OCRConfig{})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, c.PDF)
}

func TestNewConverter_MistralMissingKey(t *testing.T) {
	_, err := NewConverter(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")
}

func TestNewConverter_MistralWithKey(t *testing.T) {
	c, err := NewConverter(config.OCRConfig{Provider: "mistral", MistralKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, c.PDF)
	assert.IsType(t, &MistralOCR{}, c.Image)
}

func TestNewConverter_UnknownProvider(t *testing.T) {
	_, err := NewConverter(config.OCRConfig{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		mime string
		data []byte
		want Kind
	}{
		{"pdf by mime", "application/pdf", nil, KindPDF},
		{"text with charset", "text/plain; charset=utf-8", nil, KindText},
		{"png by mime", "image/png", nil, KindImage},
		{"pdf sniffed", "application/octet-stream", []byte("%PDF-1.7 ..."), KindPDF},
		{"jpeg sniffed", "", []byte("\xff\xd8\xff\xe0rest"), KindImage},
		{"utf8 sniffed", "", []byte("Assessed value: 410,000"), KindText},
		{"binary", "application/octet-stream", []byte{0xff, 0xfe, 0x00, 0x81}, KindUnknown},
		{"empty", "", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.mime, tt.data))
		})
	}
}

type stubConverter struct {
	text string
	mime string
}

func (s *stubConverter) ToText(_ context.Context, _ []byte, mimeType string) (string, error) {
	s.mime = mimeType
	return s.text, nil
}

func TestRouter_Dispatch(t *testing.T) {
	pdf := &stubConverter{text: "from pdf"}
	img := &stubConverter{text: "from image"}
	r := &Router{PDF: pdf, Image: img}
	ctx := context.Background()

	text, err := r.ToText(ctx, []byte("\xef\xbb\xbfplain text"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain text", text, "BOM is stripped")

	text, err = r.ToText(ctx, []byte("%PDF-1.4"), "")
	require.NoError(t, err)
	assert.Equal(t, "from pdf", text)
	assert.Equal(t, "application/pdf", pdf.mime)

	text, err = r.ToText(ctx, []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "from image", text)
	assert.Equal(t, "image/jpeg", img.mime)
}

func TestRouter_Unsupported(t *testing.T) {
	r := &Router{PDF: &stubConverter{}}

	_, err := r.ToText(context.Background(), []byte("x"), "image/png")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = r.ToText(context.Background(), []byte{0x00, 0xff, 0xfe}, "application/zip")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func TestPdfToText_ToText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ToText(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ToText_ReadsStdin(t *testing.T) {
	// Fake pdftotext that upper-cases whatever arrives on stdin.
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\ntr 'a-z' 'A-Z'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	text, err := NewPdfToText(fakeBin).ToText(context.Background(), []byte("deed of trust"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "DEED OF TRUST", text)
}

func newTestMistral(url string) *MistralOCR {
	return &MistralOCR{apiKey: "test-key", model: "test-model", endpoint: url, client: &http.Client{}}
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_PDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{ //nolint:errcheck
			{Index: 0, Markdown: "Page one"},
			{Index: 1, Markdown: "Page two"},
		}})
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ToText(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Page one\n\nPage two", text)
}

func TestMistralOCR_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/png;base64,")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "scanned"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ToText(context.Background(), []byte("\x89PNG"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "scanned", text)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ToText(context.Background(), []byte("%PDF"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
	assert.False(t, resilience.IsTransient(err))
}

func TestMistralOCR_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ToText(context.Background(), []byte("%PDF"), "application/pdf")
	require.Error(t, err)
	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ToText(context.Background(), []byte("%PDF"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}
