package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/testutil"
	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/mapping"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
)

func rawRow(t *testing.T, env *testutil.Env, file *models.ImportFile, values map[string]string) *models.Snapshot {
	t.Helper()
	s := models.NewSnapshot(file.OrganizationID, file.SourceType)
	s.ImportFileID = &file.ID
	for k, v := range values {
		s.SetExtra(k, v, s.ID)
	}
	require.NoError(t, env.Snapshots.Create(env.Ctx, s))
	return s
}

func newExecutor(env *testutil.Env, sink progress.Sink) *mapping.Executor {
	mapper := columnmapper.NewMapper(env.Mappings, testutil.Logger())
	return mapping.NewExecutor(env.DB, env.Snapshots, env.Imports, mapper, sink, testutil.Logger(), 2)
}

func TestMapSnapshot(t *testing.T) {
	raw := models.NewSnapshot("org-1", models.SourceTypeRawPortfolio)
	raw.SetExtra("Property Id", "123", raw.ID)
	raw.SetExtra("Street Number", "12", raw.ID)
	raw.SetExtra("Street Name", "Oak St", raw.ID)
	raw.SetExtra("Floor Area", "lots", raw.ID)
	raw.SetExtra("Notes", "corner lot", raw.ID)

	mapped, errs := mapping.MapSnapshot(raw, mapping.Mapping{
		"pm_property_id":   {"Property Id"},
		"address_line_1":   {"Street Number", "Missing", "Street Name"},
		"gross_floor_area": {"Floor Area"},
		"city":             {"Not In Row"},
	})

	require.Len(t, errs, 1)
	assert.Equal(t, models.SourceTypeMappedPortfolio, mapped.SourceType)
	assert.Equal(t, map[string]string{"pm_property_id": "123", "address_line_1": "12 Oak St"}, mapped.Fields)
	assert.Equal(t, mapped.ID, mapped.FieldSources["pm_property_id"])
	assert.Equal(t, mapped.ID, mapped.FieldSources["address_line_1"])
	_, hasArea := mapped.FieldSources["gross_floor_area"]
	assert.False(t, hasArea)

	assert.Equal(t, raw.ExtraData, mapped.ExtraData)
	for key := range raw.ExtraData {
		assert.Equal(t, raw.ID, mapped.ExtraDataSources[key], key)
	}
	assert.NoError(t, mapped.Validate())
}

func TestExecutor_MapFile(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.ImportFile(models.SourceTypeRawAssessed)
	for _, id := range []string{"1", "2", "3"} {
		rawRow(t, env, file, map[string]string{"Property Id": id, "Year Built": "1999.0"})
	}

	mapper := columnmapper.NewMapper(env.Mappings, testutil.Logger())
	_, err := mapper.Save(env.Ctx, "org-1", "user-1", models.SourceTypeRawAssessed, []columnmapper.Pair{
		{Raw: []string{"Property Id"}, Field: "pm_property_id"},
		{Raw: []string{"Year Built"}, Field: "year_built"},
	})
	require.NoError(t, err)

	sink := progress.NewMemorySink()
	result, err := newExecutor(env, sink).MapFile(env.Ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 3, result.Mapped)

	mapped, err := env.Snapshots.ListByImportFile(env.Ctx, file.ID, models.SourceTypeMappedAssessed)
	require.NoError(t, err)
	require.Len(t, mapped, 3)
	assert.Equal(t, "1", mapped[0].Fields["pm_property_id"])
	assert.Equal(t, "1999", mapped[0].Fields["year_built"])

	stored, err := env.Imports.GetFile(env.Ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, stored.MappingDone)

	value, err := sink.Get(env.Ctx, progress.Key(progress.JobMapData, file.ID))
	require.NoError(t, err)
	assert.Equal(t, 100.0, value)
}

func TestExecutor_RemapKeepsConsumedSnapshots(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.ImportFile(models.SourceTypeRawAssessed)
	for _, id := range []string{"1", "2", "3"} {
		rawRow(t, env, file, map[string]string{"Property Id": id})
	}
	executor := newExecutor(env, nil)
	m := mapping.Mapping{"pm_property_id": {"Property Id"}}

	_, err := executor.Map(env.Ctx, file.ID, m)
	require.NoError(t, err)
	first, err := env.Snapshots.ListByImportFile(env.Ctx, file.ID, models.SourceTypeMappedAssessed)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// the first mapped snapshot was consumed by a merge
	composite := env.Fixtures.Snapshot(models.SourceTypeComposite, map[string]string{"pm_property_id": "1"})
	env.Fixtures.Link(first[0], composite)

	result, err := executor.Map(env.Ctx, file.ID, mapping.Mapping{"tax_lot_id": {"Property Id"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 2, result.Mapped)

	second, err := env.Snapshots.ListByImportFile(env.Ctx, file.ID, models.SourceTypeMappedAssessed)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "1", second[0].Fields["pm_property_id"])
	assert.Equal(t, "2", second[1].Fields["tax_lot_id"])
	assert.Equal(t, "3", second[2].Fields["tax_lot_id"])

	// the composite is untouched
	assert.Equal(t, composite.ID, env.Fixtures.Reload(composite.ID).ID)
}

func TestExecutor_RefusesAfterMatching(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.ImportFile(models.SourceTypeRawAssessed)
	rawRow(t, env, file, map[string]string{"Property Id": "1"})
	require.NoError(t, env.Imports.MarkStage(env.Ctx, file.ID, importfile.StageMatching, true))

	result, err := newExecutor(env, nil).Map(env.Ctx, file.ID, mapping.Mapping{"pm_property_id": {"Property Id"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Contains(t, result.Message, "matching_done")
	assert.Zero(t, result.Mapped)

	count, err := env.Snapshots.Count(env.Ctx, "org-1", models.SourceTypeMappedAssessed)
	require.NoError(t, err)
	assert.Zero(t, count)
}
