package property

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/model"
)

// Merger writes extraction results into property records.
//
// Conflict policy: the last file processed wins for every field it supplies
// with a non-empty value. Empty values never clear existing data. The winning
// value's confidence and source file replace the previous ones. Files are
// processed in batch order, so the outcome is deterministic.
type Merger struct {
	store Store
}

// NewMerger creates a Merger.
func NewMerger(st Store) *Merger {
	return &Merger{store: st}
}

// CreateRecord stores result as a new record and returns its ID.
func (m *Merger) CreateRecord(ctx context.Context, accountID string, result model.ExtractionResult, sourceFile string) (string, error) {
	rec := &model.PropertyRecord{
		AccountID:        accountID,
		Fields:           map[string]any{},
		FieldConfidences: map[string]int{},
		FieldSources:     map[string]string{},
	}
	applyResult(rec, result, sourceFile)

	if err := m.store.CreateProperty(ctx, rec); err != nil {
		return "", model.Classify(model.ErrMerge, err, "property: create record")
	}

	zap.L().Info("property: record created",
		zap.String("account_id", accountID),
		zap.String("record_id", rec.ID),
		zap.String("file", sourceFile),
		zap.Int("fields", len(rec.Fields)),
	)
	return rec.ID, nil
}

// MergeInto applies result to the record targetID inside one store
// transaction.
func (m *Merger) MergeInto(ctx context.Context, targetID string, result model.ExtractionResult, sourceFile string) error {
	if targetID == "" {
		return model.Classify(model.ErrMerge, nil, "property: merge target is required")
	}

	var changed []string
	err := m.store.UpdateProperty(ctx, targetID, func(rec *model.PropertyRecord) error {
		changed = applyResult(rec, result, sourceFile)
		return nil
	})
	if err != nil {
		return model.Classify(model.ErrMerge, err, "property: merge into "+targetID)
	}

	zap.L().Info("property: record merged",
		zap.String("record_id", targetID),
		zap.String("file", sourceFile),
		zap.Strings("changed_fields", changed),
	)
	return nil
}

// Get returns a record by ID.
func (m *Merger) Get(ctx context.Context, id string) (*model.PropertyRecord, error) {
	rec, err := m.store.GetProperty(ctx, id)
	return rec, eris.Wrap(err, "property: get")
}

// applyResult merges result into rec and returns the keys it wrote, sorted.
func applyResult(rec *model.PropertyRecord, result model.ExtractionResult, sourceFile string) []string {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if rec.FieldConfidences == nil {
		rec.FieldConfidences = map[string]int{}
	}
	if rec.FieldSources == nil {
		rec.FieldSources = map[string]string{}
	}

	var changed []string
	for key, val := range result.Fields {
		if model.IsEmptyValue(val) {
			continue
		}
		rec.Fields[key] = val
		rec.FieldConfidences[key] = result.Confidence(key)
		rec.FieldSources[key] = sourceFile
		changed = append(changed, key)
	}
	slices.Sort(changed)

	if addr := result.Address(); addr != "" {
		rec.Address = addr
		rec.NormalizedAddress = NormalizeAddress(addr)
	}
	if sourceFile != "" && !slices.Contains(rec.SourceFiles, sourceFile) {
		rec.SourceFiles = append(rec.SourceFiles, sourceFile)
	}
	return changed
}
