package model

import "time"

// CreditAccount is the metered quota of one account. A nil Quota means unlimited.
type CreditAccount struct {
	AccountID              string     `json:"account_id"`
	Quota                  *int       `json:"quota"`
	Used                   int        `json:"used"`
	ResetAt                *time.Time `json:"reset_at,omitempty"`
	PersonalCredentialMode bool       `json:"personal_credential_mode"`
}

// Unlimited reports whether the account has no quota.
func (a CreditAccount) Unlimited() bool {
	return a.Quota == nil
}

// Remaining returns the credits left, or -1 when unlimited.
func (a CreditAccount) Remaining() int {
	if a.Quota == nil {
		return -1
	}
	if r := *a.Quota - a.Used; r > 0 {
		return r
	}
	return 0
}

// UsageRecord is an append-only audit entry for one extraction attempt.
type UsageRecord struct {
	ID               string        `json:"id"`
	AccountID        string        `json:"account_id"`
	BatchID          string        `json:"batch_id,omitempty"`
	OperationType    OperationType `json:"operation_type"`
	DocumentType     DocumentType  `json:"document_type"`
	FileName         string        `json:"file_name,omitempty"`
	FileSizeBytes    int64         `json:"file_size_bytes"`
	CreditsUsed      int           `json:"credits_used"`
	ProviderUsed     Provider      `json:"provider_used"`
	Success          bool          `json:"success"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	CreatedAt        time.Time     `json:"created_at"`
}

// UsageFilter specifies criteria for listing usage records.
type UsageFilter struct {
	AccountID string    `json:"account_id"`
	Since     time.Time `json:"since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}
