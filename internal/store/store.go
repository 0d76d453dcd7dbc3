// Package store persists credit accounts, usage records, property records,
// platform credentials and batch job history.
package store

import (
	"context"
	"time"

	"github.com/sells-group/property-import/internal/model"
)

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Credit accounts
	EnsureAccount(ctx context.Context, accountID string, resetAt *time.Time) (*model.CreditAccount, error)
	ResetDueAccount(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error)
	ConsumeCredits(ctx context.Context, accountID string, n int) (bool, error)
	SetQuota(ctx context.Context, accountID string, quota *int) error
	SetPersonalCredentialMode(ctx context.Context, accountID string, enabled bool) error

	// Usage audit
	InsertUsage(ctx context.Context, rec *model.UsageRecord) error
	ListUsage(ctx context.Context, filter model.UsageFilter) ([]model.UsageRecord, error)

	// Property records
	CreateProperty(ctx context.Context, rec *model.PropertyRecord) error
	GetProperty(ctx context.Context, id string) (*model.PropertyRecord, error)
	FindPropertyByNormalizedAddress(ctx context.Context, accountID, normalized string) (*model.PropertyRecord, error)
	UpdateProperty(ctx context.Context, id string, fn func(rec *model.PropertyRecord) error) error

	// Platform credentials
	ListPlatformCredentials(ctx context.Context, activeOnly bool) ([]model.PlatformCredential, error)
	AddPlatformCredential(ctx context.Context, cred *model.PlatformCredential) error

	// Batch jobs
	SaveJob(ctx context.Context, job *model.BatchJob) error
	GetJob(ctx context.Context, id string) (*model.BatchJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
