package model

import (
	"fmt"
	"strings"
)

// Well-known extraction field keys.
const (
	FieldAddress = "address"
	FieldCity    = "city"
	FieldState   = "state"
	FieldZipCode = "zip_code"
)

// ExtractionResult is one property described by a document, with a per-field
// confidence in the range 0..100.
type ExtractionResult struct {
	Fields           map[string]any `json:"fields"`
	FieldConfidences map[string]int `json:"field_confidences"`
}

// Address returns the extracted street address, or "" when absent.
func (r ExtractionResult) Address() string {
	return StringValue(r.Fields[FieldAddress])
}

// Confidence returns the clamped confidence for key.
func (r ExtractionResult) Confidence(key string) int {
	return ClampConfidence(r.FieldConfidences[key])
}

// ClampConfidence bounds c to 0..100.
func ClampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

// StringValue renders a scalar field value as a trimmed string.
func StringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// IsEmptyValue reports whether v carries no information.
func IsEmptyValue(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	case []any:
		return len(s) == 0
	case map[string]any:
		return len(s) == 0
	default:
		return false
	}
}
