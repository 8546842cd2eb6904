package unmerge_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/testutil"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/unmerge"
)

type harness struct {
	env      *testutil.Env
	fx       *testutil.Fixtures
	engine   *unmerge.Engine
	ledger   *ledger.Ledger
	locker   locking.Locker
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	env := testutil.NewEnv(t, "org-1")
	logger := testutil.Logger()
	l := ledger.New(env.Canonicals, env.Snapshots, logger)
	locker := locking.NewMemoryLocker()
	recorder := &events.Recorder{}

	engine := unmerge.NewEngine(logger, env.DB, env.Snapshots, l, merging.NewEngine(env.Snapshots, logger), locker, events.NewEmitter(recorder, logger))
	return &harness{env: env, fx: env.Fixtures, engine: engine, ledger: l, locker: locker, recorder: recorder}
}

func (h *harness) verify(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ledger.Verify(h.env.Ctx, "org-1", lineage.NewTraverser(h.env.Snapshots, testutil.Logger())))
}

func (h *harness) exists(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	found, err := h.env.Snapshots.GetMany(h.env.Ctx, []uuid.UUID{id})
	require.NoError(t, err)
	return len(found) == 1
}

func (h *harness) parents(t *testing.T, id uuid.UUID) []uuid.UUID {
	t.Helper()
	parents, err := h.env.Snapshots.Parents(h.env.Ctx, []uuid.UUID{id})
	require.NoError(t, err)
	lineage.SortIDs(parents[id])
	return parents[id]
}

func (h *harness) children(t *testing.T, id uuid.UUID) []uuid.UUID {
	t.Helper()
	children, err := h.env.Snapshots.Children(h.env.Ctx, []uuid.UUID{id})
	require.NoError(t, err)
	return children[id]
}

// entryOf returns the entry a snapshot's back reference names, reloaded.
func (h *harness) entryOf(t *testing.T, id uuid.UUID) *models.CanonicalBuilding {
	t.Helper()
	s := h.fx.Reload(id)
	require.NotNil(t, s.CanonicalBuildingID, "snapshot %s has no canonical building", id)
	return h.fx.ReloadCanonical(*s.CanonicalBuildingID)
}

func (h *harness) mapped(fields map[string]string) *models.Snapshot {
	return h.fx.Snapshot(models.SourceTypeMappedAssessed, fields)
}

func (h *harness) composite() *models.Snapshot {
	return h.fx.Snapshot(models.SourceTypeComposite, nil)
}

func TestUnmatch_SingleRemainingAncestor(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	bs3 := h.composite()
	bs4 := h.mapped(map[string]string{"pm_property_id": "4"})
	bs5 := h.composite()
	h.fx.Link(bs1, bs3)
	h.fx.Link(bs3, bs5)
	h.fx.Link(bs4, bs5)
	can := h.fx.Canonical(bs5, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.ElementsMatch(t, []uuid.UUID{bs3.ID, bs5.ID}, result.Deleted)
	assert.Equal(t, []uuid.UUID{bs4.ID}, result.Survivors)
	assert.Nil(t, result.Recombined)

	refreshed := h.fx.ReloadCanonical(can.ID)
	assert.True(t, refreshed.Active)
	assert.True(t, refreshed.PointsAt(bs4.ID))
	assert.Equal(t, can.ID, h.entryOf(t, bs4.ID).ID)

	bs1Entry := h.entryOf(t, bs1.ID)
	assert.NotEqual(t, can.ID, bs1Entry.ID)
	assert.True(t, bs1Entry.Active)
	assert.True(t, bs1Entry.PointsAt(bs1.ID))

	assert.False(t, h.exists(t, bs3.ID))
	assert.False(t, h.exists(t, bs5.ID))
	assert.Empty(t, h.children(t, bs1.ID))
	assert.Empty(t, h.children(t, bs4.ID))
	h.verify(t)
}

func TestUnmatch_SeveralRemainingAncestors(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1", "city": "Boulder"})
	bs2 := h.composite()
	bs3 := h.mapped(map[string]string{"pm_property_id": "3", "property_name": "Three"})
	bs4 := h.mapped(map[string]string{"pm_property_id": "4", "postal_code": "80301"})
	bs5 := h.fx.Snapshot(models.SourceTypeComposite, nil)
	h.fx.Link(bs1, bs2)
	h.fx.Link(bs2, bs5)
	h.fx.Link(bs3, bs2)
	h.fx.Link(bs4, bs5)

	bs5.MatchType = models.MatchTypeSystemMatch
	confidence := 1.0
	bs5.Confidence = &confidence
	require.NoError(t, h.env.Snapshots.Update(h.env.Ctx, bs5))
	can := h.fx.Canonical(bs5, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bs3.ID, bs4.ID}, result.Survivors)
	require.NotNil(t, result.Recombined)

	refreshed := h.fx.ReloadCanonical(can.ID)
	assert.True(t, refreshed.Active)
	require.True(t, refreshed.PointsAt(*result.Recombined))

	recombined := h.fx.Reload(*result.Recombined)
	assert.Equal(t, []uuid.UUID{bs3.ID, bs4.ID}, h.parents(t, recombined.ID))
	assert.Equal(t, models.MatchTypeSystemMatch, recombined.MatchType)
	require.NotNil(t, recombined.Confidence)
	assert.Equal(t, 1.0, *recombined.Confidence)
	assert.Equal(t, "3", recombined.Fields["pm_property_id"])
	assert.Equal(t, bs3.ID, recombined.FieldSources["pm_property_id"])
	assert.Equal(t, bs4.ID, recombined.FieldSources["postal_code"])
	_, hasCity := recombined.Fields["city"]
	assert.False(t, hasCity)

	bs1Entry := h.entryOf(t, bs1.ID)
	assert.NotEqual(t, can.ID, bs1Entry.ID)
	assert.True(t, bs1Entry.PointsAt(bs1.ID))

	assert.False(t, h.exists(t, bs2.ID))
	assert.False(t, h.exists(t, bs5.ID))
	h.verify(t)
}

func TestUnmatch_ReactivatesInactiveCanonical(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	can := h.fx.Canonical(bs1, false)
	bs2 := h.composite()
	newCan := h.fx.Canonical(bs2, true)
	bs3 := h.mapped(map[string]string{"pm_property_id": "3"})
	h.fx.Link(bs1, bs2)
	h.fx.Link(bs3, bs2)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, can.ID, *result.TargetCanonical)
	assert.Equal(t, newCan.ID, *result.SurvivorCanonical)

	refreshed := h.fx.ReloadCanonical(can.ID)
	assert.True(t, refreshed.Active)
	assert.True(t, refreshed.PointsAt(bs1.ID))
	assert.Equal(t, can.ID, h.entryOf(t, bs1.ID).ID)

	assert.Equal(t, newCan.ID, h.entryOf(t, bs3.ID).ID)
	assert.True(t, h.fx.ReloadCanonical(newCan.ID).PointsAt(bs3.ID))
	h.verify(t)
}

func TestUnmatch_CommonCase(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	bs2 := h.mapped(map[string]string{"pm_property_id": "2"})
	bs3 := h.composite()
	h.fx.Link(bs1, bs3)
	h.fx.Link(bs2, bs3)
	h.fx.Canonical(bs3, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs3.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bs3.ID}, result.Deleted)

	assert.False(t, h.exists(t, bs3.ID))
	assert.Empty(t, h.children(t, bs1.ID))
	assert.Empty(t, h.children(t, bs2.ID))

	bs1Entry := h.entryOf(t, bs1.ID)
	bs2Entry := h.entryOf(t, bs2.ID)
	assert.NotEqual(t, bs1Entry.ID, bs2Entry.ID)
	assert.True(t, bs1Entry.Active)
	assert.True(t, bs2Entry.Active)
	assert.True(t, bs1Entry.PointsAt(bs1.ID))
	assert.True(t, bs2Entry.PointsAt(bs2.ID))
	h.verify(t)
}

func TestUnmatch_SingleParentChain(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	bs3 := h.composite()
	bs4 := h.composite()
	bs5 := h.composite()
	h.fx.Link(bs1, bs3)
	h.fx.Link(bs3, bs4)
	h.fx.Link(bs4, bs5)
	can := h.fx.Canonical(bs5, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bs3.ID, bs4.ID, bs5.ID}, result.Deleted)
	assert.Empty(t, result.Survivors)

	// the chain's entry moves back to the root
	assert.Equal(t, can.ID, *result.TargetCanonical)
	refreshed := h.fx.ReloadCanonical(can.ID)
	assert.True(t, refreshed.Active)
	assert.True(t, refreshed.PointsAt(bs1.ID))
	h.verify(t)
}

func TestUnmatch_DetachesUnclaimedEntry(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	own := h.fx.Canonical(bs1, false)
	bs2 := h.composite()
	h.fx.Link(bs1, bs2)
	chainEntry := h.fx.Canonical(bs2, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, own.ID, *result.TargetCanonical)

	detached := h.fx.ReloadCanonical(chainEntry.ID)
	assert.False(t, detached.Active)
	assert.Nil(t, detached.CanonicalSnapshotID)
	h.verify(t)
}

func TestUnmatch_MultipleAncestorsRecombine(t *testing.T) {
	h := newHarness(t)

	p1 := h.mapped(map[string]string{"pm_property_id": "1", "address_line_1": "1 Main St"})
	p2 := h.mapped(map[string]string{"pm_property_id": "2", "city": "Denver"})
	p3 := h.mapped(map[string]string{"pm_property_id": "3", "property_name": "Library"})
	c1 := h.composite()
	d := h.composite()
	h.fx.Link(p1, c1)
	h.fx.Link(p2, c1)
	h.fx.Link(c1, d)
	h.fx.Link(p3, d)
	can := h.fx.Canonical(d, true)

	result, err := h.engine.Unmatch(h.env.Ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p2.ID, p3.ID}, result.Survivors)
	require.NotNil(t, result.Recombined)
	assert.Equal(t, can.ID, *result.SurvivorCanonical)

	recombined := h.fx.Reload(*result.Recombined)
	assert.Equal(t, []uuid.UUID{p2.ID, p3.ID}, h.parents(t, recombined.ID))
	for field, source := range recombined.FieldSources {
		assert.Contains(t, []uuid.UUID{p2.ID, p3.ID}, source, field)
	}
	assert.Equal(t, "Denver", recombined.Fields["city"])
	assert.Equal(t, "Library", recombined.Fields["property_name"])

	assert.True(t, h.entryOf(t, p1.ID).PointsAt(p1.ID))
	assert.False(t, h.exists(t, c1.ID))
	assert.False(t, h.exists(t, d.ID))

	assert.Equal(t, []events.EventType{
		events.EventTypeBuildingUnmerged,
		events.EventTypeBuildingMerged,
		events.EventTypeBuildingPromoted,
	}, h.recorder.Types())
	h.verify(t)
}

func TestUnmatch_RoundTripAfterMatching(t *testing.T) {
	h := newHarness(t)
	logger := testutil.Logger()

	a := h.mapped(map[string]string{"pm_property_id": "77", "city": "Golden"})
	b := h.fx.Snapshot(models.SourceTypeMappedPortfolio, map[string]string{"pm_property_id": "77", "postal_code": "80401"})
	bEntry := h.fx.Canonical(b, true)

	l := ledger.New(h.env.Canonicals, h.env.Snapshots, logger)
	matcher, err := matching.NewEngine(logger, h.env.DB, h.env.Snapshots, h.env.Imports, l,
		merging.NewEngine(h.env.Snapshots, logger), h.locker, nil, nil, matching.DefaultConfig(), 0)
	require.NoError(t, err)

	composite, err := matcher.SaveSnapshotMatch(h.env.Ctx, matching.ManualMatch{LeftID: a.ID, RightID: b.ID})
	require.NoError(t, err)
	h.verify(t)

	_, err = h.engine.Unmatch(h.env.Ctx, composite.ID)
	require.NoError(t, err)
	assert.False(t, h.exists(t, composite.ID))

	active, err := h.ledger.Active(h.env.Ctx, "org-1")
	require.NoError(t, err)
	var named []uuid.UUID
	for _, entry := range active {
		named = append(named, *entry.CanonicalSnapshotID)
	}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, named)
	assert.Equal(t, bEntry.ID, h.entryOf(t, b.ID).ID)

	for _, s := range []*models.Snapshot{a, b} {
		reloaded := h.fx.Reload(s.ID)
		for field, source := range reloaded.FieldSources {
			assert.Equal(t, s.ID, source, field)
		}
	}
	h.verify(t)
}

func TestUnmatch_NothingToUndo(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(map[string]string{"pm_property_id": "1"})
	h.fx.Canonical(bs1, true)

	result, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, h.recorder.Events())
}

func TestUnmatch_RefusesBranchingLineage(t *testing.T) {
	h := newHarness(t)

	bs1 := h.mapped(nil)
	c1 := h.composite()
	c2 := h.composite()
	h.fx.Link(bs1, c1, c2)
	h.fx.Canonical(c1, true)

	_, err := h.engine.Unmatch(h.env.Ctx, bs1.ID)
	assert.ErrorIs(t, err, seederrors.ErrValidation)
	assert.True(t, h.exists(t, c1.ID))
	assert.True(t, h.exists(t, c2.ID))
}

func TestUnmatch_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Unmatch(h.env.Ctx, uuid.Must(uuid.NewV7()))
	assert.True(t, seederrors.IsNotFound(err))
}
