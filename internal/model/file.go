package model

import (
	"path/filepath"
	"strings"
)

// DocumentType classifies the scanned document being imported.
type DocumentType string

const (
	DocumentAppraisal  DocumentType = "appraisal"
	DocumentInspection DocumentType = "inspection"
	DocumentDeed       DocumentType = "deed"
	DocumentTaxRecord  DocumentType = "tax_record"
	DocumentListing    DocumentType = "listing"
	DocumentOther      DocumentType = "other"
)

// ParseDocumentType maps free-form input onto a known DocumentType,
// defaulting to DocumentOther.
func ParseDocumentType(s string) DocumentType {
	switch dt := DocumentType(strings.ToLower(strings.TrimSpace(s))); dt {
	case DocumentAppraisal, DocumentInspection, DocumentDeed, DocumentTaxRecord, DocumentListing:
		return dt
	default:
		return DocumentOther
	}
}

// OperationType is persisted on every usage record.
type OperationType string

const (
	OperationPDFScan     OperationType = "pdf_scan"
	OperationTextExtract OperationType = "text_extract"
)

// FileTask is one file of a batch, fully buffered in memory so that it
// outlives the request that uploaded it.
type FileTask struct {
	Name         string       `json:"name"`
	MimeType     string       `json:"mime_type"`
	Data         []byte       `json:"-"`
	DocumentType DocumentType `json:"document_type"`
}

// Size returns the buffered size in bytes.
func (f FileTask) Size() int64 {
	return int64(len(f.Data))
}

// IsText reports whether the task carries plain text rather than a scanned document.
func (f FileTask) IsText() bool {
	mt := strings.ToLower(f.MimeType)
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	if mt == "" || mt == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".txt", ".md", ".csv":
			return true
		}
	}
	return false
}

// OperationType returns the audit operation type for this task.
func (f FileTask) OperationType() OperationType {
	if f.IsText() {
		return OperationTextExtract
	}
	return OperationPDFScan
}
