package buildings_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/testutil"
	"github.com/afrojet/seed/pkg/buildings"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/models"
)

func newService(env *testutil.Env, recorder *events.Recorder) *buildings.Service {
	logger := testutil.Logger()
	return buildings.NewService(
		logger,
		env.DB,
		env.Snapshots,
		env.Canonicals,
		ledger.New(env.Canonicals, env.Snapshots, logger),
		merging.NewEngine(env.Snapshots, logger),
		locking.NewMemoryLocker(),
		events.NewEmitter(recorder, logger),
	)
}

func TestUpdateBuilding(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	recorder := &events.Recorder{}
	svc := newService(env, recorder)

	building := env.Fixtures.Snapshot(models.SourceTypeComposite, map[string]string{
		"property_name":  "Place pl.",
		"address_line_1": "332 Place pl.",
		"owner":          "Duke of Earl",
		"postal_code":    "68674",
	})
	building.SetExtra("Assessor Data 1", "2342342", building.ID)
	building.SetExtra("Assessor Data 2", "245646", building.ID)
	building.MatchType = models.MatchTypeSystemMatch
	require.NoError(t, env.Snapshots.Update(env.Ctx, building))
	entry := env.Fixtures.Canonical(building, true)

	child, err := svc.UpdateBuilding(env.Ctx, building.ID, buildings.Update{
		Fields: map[string]string{
			"property_name": "Place pl.",
			"postal_code":   "99999",
		},
		ExtraData: map[string]string{
			"Assessor Data 1": "NUP.",
			"Assessor Data 2": "245646",
		},
		User: "user-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, building.ID, child.ID)

	stored := env.Fixtures.Reload(child.ID)
	assert.Equal(t, "99999", stored.Fields["postal_code"])
	assert.Equal(t, child.ID, stored.FieldSources["postal_code"])
	for _, field := range []string{"property_name", "address_line_1", "owner"} {
		assert.Equal(t, building.ID, stored.FieldSources[field], field)
	}
	assert.Equal(t, map[string]string{"Assessor Data 1": "NUP.", "Assessor Data 2": "245646"}, stored.ExtraData)
	assert.Equal(t, child.ID, stored.ExtraDataSources["Assessor Data 1"])
	assert.Equal(t, building.ID, stored.ExtraDataSources["Assessor Data 2"])

	assert.Equal(t, building.OrganizationID, stored.OrganizationID)
	assert.Equal(t, building.MatchType, stored.MatchType)
	assert.Equal(t, models.SourceTypeComposite, stored.SourceType)
	assert.Equal(t, "user-1", stored.LastModifiedBy)

	parents, err := env.Snapshots.Parents(env.Ctx, []uuid.UUID{child.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{building.ID}, parents[child.ID])

	refreshed := env.Fixtures.ReloadCanonical(entry.ID)
	assert.True(t, refreshed.Active)
	assert.True(t, refreshed.PointsAt(child.ID))
	assert.Equal(t, &entry.ID, stored.CanonicalBuildingID)

	assert.Equal(t, []events.EventType{events.EventTypeBuildingUpdated}, recorder.Types())
}

func TestUpdateBuilding_ClearsAndCoerces(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	svc := newService(env, &events.Recorder{})

	building := env.Fixtures.Snapshot(models.SourceTypeMappedAssessed, map[string]string{"city": "Denver", "year_built": "1990"})

	child, err := svc.UpdateBuilding(env.Ctx, building.ID, buildings.Update{
		Fields: map[string]string{"city": " ", "gross_floor_area": "12,500", "year_built": "1990.0"},
	})
	require.NoError(t, err)

	stored := env.Fixtures.Reload(child.ID)
	_, hasCity := stored.Fields["city"]
	assert.False(t, hasCity)
	assert.Equal(t, "12500", stored.Fields["gross_floor_area"])
	assert.Equal(t, building.ID, stored.FieldSources["year_built"])
	assert.NoError(t, stored.Validate())
}

func TestUpdateBuilding_Rejects(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	svc := newService(env, &events.Recorder{})

	raw := env.Fixtures.Snapshot(models.SourceTypeRawAssessed, nil)
	parent := env.Fixtures.Snapshot(models.SourceTypeMappedAssessed, nil)
	env.Fixtures.Link(parent, env.Fixtures.Snapshot(models.SourceTypeComposite, nil))
	leaf := env.Fixtures.Snapshot(models.SourceTypeMappedAssessed, nil)

	tests := []struct {
		name   string
		id     uuid.UUID
		update buildings.Update
	}{
		{name: "raw snapshot", id: raw.ID},
		{name: "superseded snapshot", id: parent.ID},
		{name: "unknown field", id: leaf.ID, update: buildings.Update{Fields: map[string]string{"height": "3"}}},
		{name: "bad number", id: leaf.ID, update: buildings.Update{Fields: map[string]string{"site_eui": "lots"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateBuilding(env.Ctx, tt.id, tt.update)
			assert.ErrorIs(t, err, seederrors.ErrValidation)
		})
	}
}

func TestDeleteOrganizationBuildings(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	svc := newService(env, &events.Recorder{})
	logger := testutil.Logger()

	a := env.Fixtures.Snapshot(models.SourceTypeMappedAssessed, map[string]string{"pm_property_id": "1"})
	b := env.Fixtures.Snapshot(models.SourceTypeComposite, nil)
	env.Fixtures.Link(a, b)
	env.Fixtures.Canonical(b, true)

	other := testutil.NewFixtures(t, env.Snapshots, canonical.NewRepository(env.DB, logger), importfile.NewRepository(env.DB, logger), "org-2")
	kept := other.Snapshot(models.SourceTypeMappedAssessed, map[string]string{"pm_property_id": "1"})
	keptEntry := other.Canonical(kept, true)

	result, err := svc.DeleteOrganizationBuildings(env.Ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.SnapshotsDeleted)
	assert.Equal(t, 1, result.CanonicalsDeleted)

	count, err := env.Snapshots.Count(env.Ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = env.Snapshots.Count(env.Ctx, "org-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, other.ReloadCanonical(keptEntry.ID).Active)

	_, err = svc.DeleteOrganizationBuildings(env.Ctx, "")
	assert.ErrorIs(t, err, seederrors.ErrValidation)
}
