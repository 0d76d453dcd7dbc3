package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText converts PDFs with the poppler pdftotext binary, streaming the
// document over stdin.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText converter. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ToText runs pdftotext -layout over data and returns stdout.
func (p *PdfToText) ToText(ctx context.Context, data []byte, _ string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}
	return stdout.String(), nil
}
