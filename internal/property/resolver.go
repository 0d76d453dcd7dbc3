// Package property resolves duplicate property records by address and merges
// extracted fields into a target record.
package property

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/model"
)

// Store is the persistence the resolver and merger need.
type Store interface {
	CreateProperty(ctx context.Context, rec *model.PropertyRecord) error
	GetProperty(ctx context.Context, id string) (*model.PropertyRecord, error)
	FindPropertyByNormalizedAddress(ctx context.Context, accountID, normalized string) (*model.PropertyRecord, error)
	UpdateProperty(ctx context.Context, id string, fn func(rec *model.PropertyRecord) error) error
}

// Resolver finds existing records describing the same property.
type Resolver struct {
	store Store
}

// NewResolver creates a duplicate resolver.
func NewResolver(st Store) *Resolver {
	return &Resolver{store: st}
}

// FindByAddress returns the account's record whose normalized address equals
// the normalized form of address, or nil when there is none. Addresses that
// normalize to nothing never match.
func (r *Resolver) FindByAddress(ctx context.Context, accountID, address string) (*model.PropertyRecord, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return nil, nil
	}

	rec, err := r.store.FindPropertyByNormalizedAddress(ctx, accountID, normalized)
	if err != nil {
		return nil, eris.Wrap(err, "property: find by address")
	}
	if rec != nil {
		zap.L().Debug("property: duplicate address matched",
			zap.String("account_id", accountID),
			zap.String("normalized_address", normalized),
			zap.String("record_id", rec.ID),
		)
	}
	return rec, nil
}
