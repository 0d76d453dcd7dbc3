package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDocumentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DocumentAppraisal, ParseDocumentType(" Appraisal "))
	assert.Equal(t, DocumentTaxRecord, ParseDocumentType("tax_record"))
	assert.Equal(t, DocumentOther, ParseDocumentType(""))
	assert.Equal(t, DocumentOther, ParseDocumentType("brochure"))
}

func TestFileTask_OperationType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		task FileTask
		want OperationType
	}{
		{"pdf", FileTask{Name: "deed.pdf", MimeType: "application/pdf"}, OperationPDFScan},
		{"image", FileTask{Name: "scan.png", MimeType: "image/png"}, OperationPDFScan},
		{"plain text", FileTask{Name: "notes", MimeType: "text/plain; charset=utf-8"}, OperationTextExtract},
		{"unknown mime txt ext", FileTask{Name: "notes.TXT"}, OperationTextExtract},
		{"octet pdf ext", FileTask{Name: "x.pdf", MimeType: "application/octet-stream"}, OperationPDFScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.task.OperationType())
		})
	}
}

func TestExtractionResult_Helpers(t *testing.T) {
	t.Parallel()

	r := ExtractionResult{
		Fields:           map[string]any{"address": " 123 Main St ", "beds": float64(3), "baths": 2.5},
		FieldConfidences: map[string]int{"address": 140, "beds": -3},
	}

	assert.Equal(t, "123 Main St", r.Address())
	assert.Equal(t, 100, r.Confidence("address"))
	assert.Equal(t, 0, r.Confidence("beds"))
	assert.Equal(t, "3", StringValue(r.Fields["beds"]))
	assert.Equal(t, "2.5", StringValue(r.Fields["baths"]))
	assert.True(t, IsEmptyValue("  "))
	assert.True(t, IsEmptyValue(nil))
	assert.False(t, IsEmptyValue(float64(0)))
}

func TestProvider_Rank(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ProviderAnthropic.Rank())
	assert.Equal(t, 1, ProviderGemini.Rank())
	assert.False(t, Provider("openai").Known())
}

func TestCreditAccount_Remaining(t *testing.T) {
	t.Parallel()

	q := 10
	assert.Equal(t, -1, CreditAccount{}.Remaining())
	assert.Equal(t, 1, CreditAccount{Quota: &q, Used: 9}.Remaining())
	assert.Equal(t, 0, CreditAccount{Quota: &q, Used: 12}.Remaining())
}
