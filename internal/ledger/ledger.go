// Package ledger meters extraction credits per account and records an
// append-only usage audit.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/model"
)

// Store is the persistence the ledger needs.
type Store interface {
	EnsureAccount(ctx context.Context, accountID string, resetAt *time.Time) (*model.CreditAccount, error)
	ResetDueAccount(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error)
	ConsumeCredits(ctx context.Context, accountID string, n int) (bool, error)
	SetQuota(ctx context.Context, accountID string, quota *int) error
	InsertUsage(ctx context.Context, rec *model.UsageRecord) error
	ListUsage(ctx context.Context, filter model.UsageFilter) ([]model.UsageRecord, error)
}

// Ledger answers balance queries and consumes credits atomically.
type Ledger struct {
	store       Store
	resetPeriod time.Duration
	nowFunc     func() time.Time
}

// New creates a Ledger. A resetPeriod of zero disables the usage reset
// schedule for newly created accounts.
func New(st Store, resetPeriod time.Duration) *Ledger {
	return &Ledger{store: st, resetPeriod: resetPeriod, nowFunc: time.Now}
}

// Balance returns the account, creating it on first use and applying a due
// reset first.
func (l *Ledger) Balance(ctx context.Context, accountID string) (*model.CreditAccount, error) {
	if accountID == "" {
		return nil, eris.Wrap(model.ErrInvalidRequest, "ledger: account id is required")
	}
	now := l.nowFunc().UTC()

	var firstReset *time.Time
	if l.resetPeriod > 0 {
		t := now.Add(l.resetPeriod)
		firstReset = &t
	}

	acct, err := l.store.EnsureAccount(ctx, accountID, firstReset)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: balance")
	}
	if acct.ResetAt == nil || acct.ResetAt.After(now) {
		return acct, nil
	}

	next := l.nextReset(*acct.ResetAt, now)
	reset, err := l.store.ResetDueAccount(ctx, accountID, now, next)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: reset usage")
	}
	if reset {
		zap.L().Info("credit usage reset",
			zap.String("account_id", accountID),
			zap.Int("used_before", acct.Used),
			zap.Time("next_reset", next),
		)
	}

	acct, err = l.store.EnsureAccount(ctx, accountID, nil)
	return acct, eris.Wrap(err, "ledger: balance after reset")
}

// nextReset advances from the last scheduled reset in whole periods so the
// schedule stays anchored to the account's original reset day.
func (l *Ledger) nextReset(last, now time.Time) time.Time {
	period := l.resetPeriod
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	next := last
	for !next.After(now) {
		next = next.Add(period)
	}
	return next
}

// HasEnough reports whether needed credits fit in the remaining quota.
// Unlimited accounts always have enough.
func (l *Ledger) HasEnough(ctx context.Context, accountID string, needed int) (bool, error) {
	acct, err := l.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	if acct.Unlimited() {
		return true, nil
	}
	return acct.Used+needed <= *acct.Quota, nil
}

// Consume charges needed credits. It returns false, leaving usage untouched,
// when the charge would exceed the quota.
func (l *Ledger) Consume(ctx context.Context, accountID string, needed int) (bool, error) {
	if needed <= 0 {
		return true, nil
	}
	if _, err := l.Balance(ctx, accountID); err != nil {
		return false, err
	}
	ok, err := l.store.ConsumeCredits(ctx, accountID, needed)
	if err != nil {
		return false, eris.Wrap(err, "ledger: consume")
	}
	if !ok {
		zap.L().Warn("credit consume rejected",
			zap.String("account_id", accountID),
			zap.Int("credits", needed),
		)
	}
	return ok, nil
}

// TrackUsage appends an audit record. Failures are logged and never reach the
// caller.
func (l *Ledger) TrackUsage(ctx context.Context, rec model.UsageRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.nowFunc().UTC()
	}
	if err := l.store.InsertUsage(context.WithoutCancel(ctx), &rec); err != nil {
		zap.L().Warn("usage audit write failed",
			zap.String("account_id", rec.AccountID),
			zap.String("batch_id", rec.BatchID),
			zap.String("file", rec.FileName),
			zap.Error(err),
		)
	}
}

// Usage lists audit records, newest first.
func (l *Ledger) Usage(ctx context.Context, filter model.UsageFilter) ([]model.UsageRecord, error) {
	recs, err := l.store.ListUsage(ctx, filter)
	return recs, eris.Wrap(err, "ledger: list usage")
}

// SetQuota replaces an account's quota; nil makes it unlimited.
func (l *Ledger) SetQuota(ctx context.Context, accountID string, quota *int) error {
	if quota != nil && *quota < 0 {
		return eris.Wrap(model.ErrInvalidRequest, "ledger: quota must not be negative")
	}
	if _, err := l.Balance(ctx, accountID); err != nil {
		return err
	}
	return eris.Wrap(l.store.SetQuota(ctx, accountID, quota), "ledger: set quota")
}
