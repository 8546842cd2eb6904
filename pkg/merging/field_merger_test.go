package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/pkg/models"
)

func snapshotWith(fields, extra map[string]string) *models.Snapshot {
	s := models.NewSnapshot("org", models.SourceTypeMappedAssessed)
	for k, v := range fields {
		s.Set(k, v, s.ID)
	}
	for k, v := range extra {
		s.SetExtra(k, v, s.ID)
	}
	return s
}

func TestMerge_LeftWinsAndRightFillsGaps(t *testing.T) {
	left := snapshotWith(map[string]string{
		models.FieldPMPropertyID: "1",
		models.FieldCity:         "Denver",
	}, nil)
	right := snapshotWith(map[string]string{
		models.FieldPMPropertyID: "2",
		models.FieldPostalCode:   "80202",
	}, nil)

	composite, conflicts := NewFieldMerger().Merge("org", left, right)

	assert.Equal(t, models.SourceTypeComposite, composite.SourceType)
	assert.Equal(t, "1", composite.Fields[models.FieldPMPropertyID])
	assert.Equal(t, left.ID, composite.FieldSources[models.FieldPMPropertyID])
	assert.Equal(t, "80202", composite.Fields[models.FieldPostalCode])
	assert.Equal(t, right.ID, composite.FieldSources[models.FieldPostalCode])
	assert.Equal(t, left.ID, composite.FieldSources[models.FieldCity])

	require.Len(t, conflicts, 1)
	assert.Equal(t, models.FieldPMPropertyID, conflicts[0].Field)
}

func TestMerge_ExtraData(t *testing.T) {
	left := snapshotWith(nil, map[string]string{"a": "left-a", "shared": "left"})
	right := snapshotWith(nil, map[string]string{"b": "right-b", "shared": "right"})

	composite, _ := NewFieldMerger().Merge("org", left, right)

	assert.Equal(t, map[string]string{"a": "left-a", "b": "right-b", "shared": "left"}, composite.ExtraData)
	assert.Equal(t, left.ID, composite.ExtraDataSources["shared"])
	assert.Equal(t, left.ID, composite.ExtraDataSources["a"])
	assert.Equal(t, right.ID, composite.ExtraDataSources["b"])
	require.NoError(t, composite.Validate())
}

func TestMerge_CarriesSourcePointersForward(t *testing.T) {
	origin := snapshotWith(map[string]string{models.FieldTaxLotID: "T-1"}, nil)
	other := snapshotWith(map[string]string{models.FieldCity: "Boulder"}, nil)
	inner, _ := NewFieldMerger().Merge("org", origin, other)

	third := snapshotWith(map[string]string{models.FieldTaxLotID: "T-9"}, nil)
	outer, _ := NewFieldMerger().Merge("org", third, inner)

	assert.Equal(t, "T-9", outer.Fields[models.FieldTaxLotID])
	assert.Equal(t, third.ID, outer.FieldSources[models.FieldTaxLotID])
	assert.Equal(t, other.ID, outer.FieldSources[models.FieldCity])
}

func TestMerge_ExtraDataKeepsRawSource(t *testing.T) {
	raw := models.NewSnapshot("org", models.SourceTypeRawAssessed)
	mapped := models.NewSnapshot("org", models.SourceTypeMappedAssessed)
	mapped.SetExtra("Assessor Note", "corner lot", raw.ID)
	other := snapshotWith(nil, map[string]string{"Owner Phone": "555"})

	composite, _ := NewFieldMerger().Merge("org", other, mapped)

	// extra data points at the snapshot the value was read from, not the operand
	assert.Equal(t, raw.ID, composite.ExtraDataSources["Assessor Note"])
	assert.Equal(t, other.ID, composite.ExtraDataSources["Owner Phone"])
	require.NoError(t, composite.Validate())
}

func TestMergeAll_FoldsInOrder(t *testing.T) {
	p1 := snapshotWith(map[string]string{models.FieldCity: "A"}, nil)
	p2 := snapshotWith(map[string]string{models.FieldCity: "B", models.FieldPostalCode: "2"}, nil)
	p3 := snapshotWith(map[string]string{models.FieldPostalCode: "3", models.FieldCustomID1: "c3"}, nil)

	composite, conflicts := NewFieldMerger().MergeAll("org", p1, p2, p3)

	assert.Equal(t, "A", composite.Fields[models.FieldCity])
	assert.Equal(t, p1.ID, composite.FieldSources[models.FieldCity])
	assert.Equal(t, "2", composite.Fields[models.FieldPostalCode])
	assert.Equal(t, p2.ID, composite.FieldSources[models.FieldPostalCode])
	assert.Equal(t, p3.ID, composite.FieldSources[models.FieldCustomID1])
	assert.Len(t, conflicts, 2)
}

func TestMergeAll_SingleOperandCopies(t *testing.T) {
	only := snapshotWith(map[string]string{models.FieldCity: "A"}, map[string]string{"x": "1"})

	composite, conflicts := NewFieldMerger().MergeAll("org", only)

	assert.NotEqual(t, only.ID, composite.ID)
	assert.Equal(t, only.Fields, composite.Fields)
	assert.Equal(t, only.ID, composite.ExtraDataSources["x"])
	assert.Empty(t, conflicts)
}
