package model

import "time"

// PropertyRecord is the aggregate record a batch creates or merges into.
type PropertyRecord struct {
	ID                string            `json:"id"`
	AccountID         string            `json:"account_id"`
	Address           string            `json:"address"`
	NormalizedAddress string            `json:"normalized_address"`
	Fields            map[string]any    `json:"fields"`
	FieldConfidences  map[string]int    `json:"field_confidences"`
	FieldSources      map[string]string `json:"field_sources"`
	SourceFiles       []string          `json:"source_files"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
