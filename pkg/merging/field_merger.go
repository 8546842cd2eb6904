package merging

import (
	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/models"
)

// Conflict records a field both operands populated with different values.
type Conflict struct {
	Field    string    `json:"field"`
	Left     string    `json:"left"`
	Right    string    `json:"right"`
	SourceID uuid.UUID `json:"source_id"`
}

// FieldMerger combines two snapshots with left precedence: a left value is
// kept whenever it is present and the right value only fills gaps.
type FieldMerger struct{}

func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// Merge builds the unsaved composite of left and right. Source pointers are
// carried forward from the operand that supplied each value; an operand with
// no pointer for a value is itself the source.
func (m *FieldMerger) Merge(organizationID string, left, right *models.Snapshot) (*models.Snapshot, []Conflict) {
	composite := models.NewSnapshot(organizationID, models.SourceTypeComposite)
	var conflicts []Conflict

	for _, f := range models.CanonicalFields {
		lv, lok := left.Value(f.Name)
		rv, rok := right.Value(f.Name)
		switch {
		case lok:
			composite.Set(f.Name, lv, sourceOf(left, left.FieldSources, f.Name))
			if rok && rv != lv {
				conflicts = append(conflicts, Conflict{Field: f.Name, Left: lv, Right: rv, SourceID: composite.FieldSources[f.Name]})
			}
		case rok:
			composite.Set(f.Name, rv, sourceOf(right, right.FieldSources, f.Name))
		}
	}

	for _, key := range right.ExtraKeys() {
		composite.SetExtra(key, right.ExtraData[key], sourceOf(right, right.ExtraDataSources, key))
	}
	for _, key := range left.ExtraKeys() {
		composite.SetExtra(key, left.ExtraData[key], sourceOf(left, left.ExtraDataSources, key))
	}

	return composite, conflicts
}

// MergeAll folds operands left to right, so earlier operands take precedence.
func (m *FieldMerger) MergeAll(organizationID string, operands ...*models.Snapshot) (*models.Snapshot, []Conflict) {
	if len(operands) == 0 {
		return models.NewSnapshot(organizationID, models.SourceTypeComposite), nil
	}

	acc := operands[0]
	var all []Conflict
	for _, next := range operands[1:] {
		merged, conflicts := m.Merge(organizationID, acc, next)
		all = append(all, conflicts...)
		acc = merged
	}

	if len(operands) == 1 {
		acc, _ = m.Merge(organizationID, acc, models.NewSnapshot(organizationID, models.SourceTypeComposite))
	}
	return acc, all
}

func sourceOf(s *models.Snapshot, sources map[string]uuid.UUID, key string) uuid.UUID {
	if id, ok := sources[key]; ok && id != uuid.Nil {
		return id
	}
	return s.ID
}
