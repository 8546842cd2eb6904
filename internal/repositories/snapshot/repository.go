package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

const (
	snapshotsTable = "snapshots"
	edgesTable     = "snapshot_edges"

	// inChunk keeps IN clauses under the sqlite parameter limit.
	inChunk = 500
)

var snapshotColumns = []string{
	"id", "organization_id", "import_file_id", "source_type", "match_type", "confidence",
	"canonical_building_id", "fields", "field_sources", "extra_data", "extra_data_sources",
	"last_modified_by", "created_at", "updated_at",
}

type row struct {
	ID                  uuid.UUID                            `db:"id"`
	OrganizationID      string                               `db:"organization_id"`
	ImportFileID        *uuid.UUID                           `db:"import_file_id"`
	SourceType          models.SourceType                    `db:"source_type"`
	MatchType           models.MatchType                     `db:"match_type"`
	Confidence          *float64                             `db:"confidence"`
	CanonicalBuildingID *uuid.UUID                           `db:"canonical_building_id"`
	Fields              database.JSONB[map[string]string]    `db:"fields"`
	FieldSources        database.JSONB[map[string]uuid.UUID] `db:"field_sources"`
	ExtraData           database.JSONB[map[string]string]    `db:"extra_data"`
	ExtraDataSources    database.JSONB[map[string]uuid.UUID] `db:"extra_data_sources"`
	LastModifiedBy      string                               `db:"last_modified_by"`
	CreatedAt           time.Time                            `db:"created_at"`
	UpdatedAt           time.Time                            `db:"updated_at"`
}

func toRow(s *models.Snapshot) row {
	return row{
		ID:                  s.ID,
		OrganizationID:      s.OrganizationID,
		ImportFileID:        s.ImportFileID,
		SourceType:          s.SourceType,
		MatchType:           s.MatchType,
		Confidence:          s.Confidence,
		CanonicalBuildingID: s.CanonicalBuildingID,
		Fields:              database.NewJSONB(nonNilStrings(s.Fields)),
		FieldSources:        database.NewJSONB(nonNilSources(s.FieldSources)),
		ExtraData:           database.NewJSONB(nonNilStrings(s.ExtraData)),
		ExtraDataSources:    database.NewJSONB(nonNilSources(s.ExtraDataSources)),
		LastModifiedBy:      s.LastModifiedBy,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func (r row) toModel() *models.Snapshot {
	return &models.Snapshot{
		ID:                  r.ID,
		OrganizationID:      r.OrganizationID,
		ImportFileID:        r.ImportFileID,
		SourceType:          r.SourceType,
		MatchType:           r.MatchType,
		Confidence:          r.Confidence,
		CanonicalBuildingID: r.CanonicalBuildingID,
		Fields:              nonNilStrings(r.Fields.GetValue()),
		FieldSources:        nonNilSources(r.FieldSources.GetValue()),
		ExtraData:           nonNilStrings(r.ExtraData.GetValue()),
		ExtraDataSources:    nonNilSources(r.ExtraDataSources.GetValue()),
		LastModifiedBy:      r.LastModifiedBy,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSources(m map[string]uuid.UUID) map[string]uuid.UUID {
	if m == nil {
		return map[string]uuid.UUID{}
	}
	return m
}

// Edge is one parent -> child link of the snapshot graph.
type Edge struct {
	ParentID uuid.UUID `db:"parent_id"`
	ChildID  uuid.UUID `db:"child_id"`
}

// Repository persists snapshots and the parent/child edge set.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Create inserts snapshots in one statement.
func (r *Repository) Create(ctx context.Context, snapshots ...*models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Create")
	defer span.End()

	if len(snapshots) == 0 {
		return nil
	}

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(snapshotsTable)
	sb.Cols(snapshotColumns...)
	for _, s := range snapshots {
		if err := s.Validate(); err != nil {
			return seederrors.NewInvariantViolation("snapshot", err.Error(), s.ID.String())
		}
		rw := toRow(s)
		sb.Values(rw.ID, rw.OrganizationID, rw.ImportFileID, int(rw.SourceType), int(rw.MatchType), rw.Confidence,
			rw.CanonicalBuildingID, rw.Fields, rw.FieldSources, rw.ExtraData, rw.ExtraDataSources,
			rw.LastModifiedBy, rw.CreatedAt, rw.UpdatedAt)
	}

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create snapshots")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create snapshots")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(snapshots)}).Debug("Created snapshots")
	return nil
}

// Get retrieves a snapshot by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(snapshotColumns...)
	sb.From(snapshotsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rw row
	if err := r.db.Executor(ctx).GetContext(ctx, &rw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seederrors.NewNotFoundError("snapshot", id.String())
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get snapshot")
	}

	return rw.toModel(), nil
}

// GetMany retrieves snapshots in id (creation) order. Missing ids are skipped.
func (r *Repository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.GetMany")
	defer span.End()

	var snapshots []*models.Snapshot
	for _, chunk := range database.Chunk(ids, inChunk) {
		sb := r.db.Flavor().NewSelectBuilder()
		sb.Select(snapshotColumns...)
		sb.From(snapshotsTable)
		sb.Where(sb.In("id", database.IDs(chunk)...))

		found, err := r.selectRows(ctx, sb)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, found...)
	}

	sortByID(snapshots)
	return snapshots, nil
}

// ListByImportFile returns the file's snapshots of the given source types in creation order.
func (r *Repository) ListByImportFile(ctx context.Context, importFileID uuid.UUID, sourceTypes ...models.SourceType) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListByImportFile")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(snapshotColumns...)
	sb.From(snapshotsTable)
	sb.Where(sb.Equal("import_file_id", importFileID))
	if len(sourceTypes) > 0 {
		sb.Where(sb.In("source_type", sourceTypeArgs(sourceTypes)...))
	}
	sb.OrderBy("id").Asc()

	return r.selectRows(ctx, sb)
}

// ListUnmatched returns mapped snapshots of a file that are not yet canonical,
// not consumed by a merge, and not waiting on manual review.
func (r *Repository) ListUnmatched(ctx context.Context, importFileID uuid.UUID) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListUnmatched")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(snapshotColumns...)
	sb.From(snapshotsTable)
	sb.Where(
		sb.Equal("import_file_id", importFileID),
		sb.In("source_type", sourceTypeArgs([]models.SourceType{models.SourceTypeMappedAssessed, models.SourceTypeMappedPortfolio})...),
		sb.IsNull("canonical_building_id"),
		sb.NotEqual("match_type", int(models.MatchTypePossibleMatch)),
		"NOT EXISTS (SELECT 1 FROM snapshot_edges e WHERE e.parent_id = snapshots.id)",
	)
	sb.OrderBy("id").Asc()

	return r.selectRows(ctx, sb)
}

// ListChildless returns the file's snapshots of the given types that no merge has consumed.
func (r *Repository) ListChildless(ctx context.Context, importFileID uuid.UUID, sourceTypes ...models.SourceType) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListChildless")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(snapshotColumns...)
	sb.From(snapshotsTable)
	sb.Where(
		sb.Equal("import_file_id", importFileID),
		"NOT EXISTS (SELECT 1 FROM snapshot_edges e WHERE e.parent_id = snapshots.id)",
	)
	if len(sourceTypes) > 0 {
		sb.Where(sb.In("source_type", sourceTypeArgs(sourceTypes)...))
	}
	sb.OrderBy("id").Asc()

	return r.selectRows(ctx, sb)
}

// ListActiveCanonical returns the snapshots currently named by an active
// canonical building of the organization, in creation order.
func (r *Repository) ListActiveCanonical(ctx context.Context, organizationID string) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListActiveCanonical")
	defer span.End()

	cols := make([]string, len(snapshotColumns))
	for i, c := range snapshotColumns {
		cols[i] = "s." + c
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(cols...)
	sb.From(sb.As(snapshotsTable, "s"))
	sb.Join(sb.As("canonical_buildings", "c"), "c.canonical_snapshot_id = s.id")
	sb.Where(
		sb.Equal("c.organization_id", organizationID),
		sb.Equal("c.active", true),
	)
	sb.OrderBy("s.id").Asc()

	return r.selectRows(ctx, sb)
}

// Update rewrites the mutable columns of a snapshot. source_type never changes.
func (r *Repository) Update(ctx context.Context, s *models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Update")
	defer span.End()

	if err := s.Validate(); err != nil {
		return seederrors.NewInvariantViolation("snapshot", err.Error(), s.ID.String())
	}

	s.UpdatedAt = time.Now().UTC()
	rw := toRow(s)

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(snapshotsTable)
	sb.Set(
		sb.Assign("match_type", int(rw.MatchType)),
		sb.Assign("confidence", rw.Confidence),
		sb.Assign("canonical_building_id", rw.CanonicalBuildingID),
		sb.Assign("fields", rw.Fields),
		sb.Assign("field_sources", rw.FieldSources),
		sb.Assign("extra_data", rw.ExtraData),
		sb.Assign("extra_data_sources", rw.ExtraDataSources),
		sb.Assign("last_modified_by", rw.LastModifiedBy),
		sb.Assign("updated_at", rw.UpdatedAt),
	)
	sb.Where(sb.Equal("id", s.ID))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update snapshot")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update snapshot")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return seederrors.NewNotFoundError("snapshot", s.ID.String())
	}
	return nil
}

// SetMatch records a match decision on a snapshot without touching its values.
func (r *Repository) SetMatch(ctx context.Context, id uuid.UUID, matchType models.MatchType, confidence *float64) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.SetMatch")
	defer span.End()

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(snapshotsTable)
	sb.Set(
		sb.Assign("match_type", int(matchType)),
		sb.Assign("confidence", confidence),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set snapshot match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set snapshot match")
	}
	return nil
}

// SetCanonicalBuilding stores the back reference from a snapshot to its ledger entry.
func (r *Repository) SetCanonicalBuilding(ctx context.Context, id uuid.UUID, canonicalBuildingID *uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.SetCanonicalBuilding")
	defer span.End()

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(snapshotsTable)
	sb.Set(
		sb.Assign("canonical_building_id", canonicalBuildingID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set canonical building on snapshot")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set canonical building on snapshot")
	}
	return nil
}

// AddEdge links parent -> child. Self loops and edges closing a cycle are
// refused as invariant violations.
func (r *Repository) AddEdge(ctx context.Context, parentID, childID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.AddEdge")
	defer span.End()

	if parentID == childID {
		return seederrors.NewInvariantViolation("acyclic", "self loop", parentID.String())
	}

	cycle, err := r.reaches(ctx, parentID, childID)
	if err != nil {
		return err
	}
	if cycle {
		return seederrors.NewInvariantViolation("acyclic", "edge would close a cycle", parentID.String(), childID.String())
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(edgesTable)
	ib.Cols("parent_id", "child_id", "created_at")
	ib.Values(parentID, childID, time.Now().UTC())
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add snapshot edge")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add snapshot edge")
	}
	return nil
}

// reaches reports whether to is an ancestor of (or equal to) from by walking parents.
func (r *Repository) reaches(ctx context.Context, from, to uuid.UUID) (bool, error) {
	seen := map[uuid.UUID]bool{from: true}
	frontier := []uuid.UUID{from}
	for len(frontier) > 0 {
		parents, err := r.Parents(ctx, frontier)
		if err != nil {
			return false, err
		}
		frontier = frontier[:0]
		for _, ids := range parents {
			for _, id := range ids {
				if id == to {
					return true, nil
				}
				if !seen[id] {
					seen[id] = true
					frontier = append(frontier, id)
				}
			}
		}
	}
	return false, nil
}

// Parents maps each child id to its parent ids in creation order.
func (r *Repository) Parents(ctx context.Context, childIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	edges, err := r.edges(ctx, "child_id", childIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(childIDs))
	for _, e := range edges {
		out[e.ChildID] = append(out[e.ChildID], e.ParentID)
	}
	return out, nil
}

// Children maps each parent id to its child ids in creation order.
func (r *Repository) Children(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	edges, err := r.edges(ctx, "parent_id", parentIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(parentIDs))
	for _, e := range edges {
		out[e.ParentID] = append(out[e.ParentID], e.ChildID)
	}
	return out, nil
}

func (r *Repository) edges(ctx context.Context, column string, ids []uuid.UUID) ([]Edge, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.edges")
	defer span.End()

	var edges []Edge
	for _, chunk := range database.Chunk(ids, inChunk) {
		sb := r.db.Flavor().NewSelectBuilder()
		sb.Select("parent_id", "child_id")
		sb.From(edgesTable)
		sb.Where(sb.In(column, database.IDs(chunk)...))
		sb.OrderBy("parent_id", "child_id").Asc()

		query, args := sb.Build()
		var found []Edge
		if err := r.db.Executor(ctx).SelectContext(ctx, &found, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to list snapshot edges")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list snapshot edges")
		}
		edges = append(edges, found...)
	}
	return edges, nil
}

// Delete removes snapshots and every edge touching them.
func (r *Repository) Delete(ctx context.Context, ids []uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Delete")
	defer span.End()

	deleted := 0
	for _, chunk := range database.Chunk(ids, inChunk) {
		eb := r.db.Flavor().NewDeleteBuilder()
		eb.DeleteFrom(edgesTable)
		eb.Where(eb.Or(
			eb.In("parent_id", database.IDs(chunk)...),
			eb.In("child_id", database.IDs(chunk)...),
		))
		query, args := eb.Build()
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to delete snapshot edges")
			return deleted, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete snapshot edges")
		}

		sd := r.db.Flavor().NewDeleteBuilder()
		sd.DeleteFrom(snapshotsTable)
		sd.Where(sd.In("id", database.IDs(chunk)...))
		query, args = sd.Build()
		result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to delete snapshots")
			return deleted, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete snapshots")
		}
		n, _ := result.RowsAffected()
		deleted += int(n)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": deleted}).Debug("Deleted snapshots")
	return deleted, nil
}

// DeleteByOrganization removes every snapshot and edge owned by the organization.
func (r *Repository) DeleteByOrganization(ctx context.Context, organizationID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.DeleteByOrganization")
	defer span.End()

	owned := r.db.Flavor().NewSelectBuilder()
	owned.Select("id")
	owned.From(snapshotsTable)
	owned.Where(owned.Equal("organization_id", organizationID))

	eb := r.db.Flavor().NewDeleteBuilder()
	eb.DeleteFrom(edgesTable)
	eb.Where(eb.Or(
		eb.In("parent_id", owned),
		eb.In("child_id", owned),
	))
	query, args := eb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete organization snapshot edges")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete organization snapshot edges")
	}

	sd := r.db.Flavor().NewDeleteBuilder()
	sd.DeleteFrom(snapshotsTable)
	sd.Where(sd.Equal("organization_id", organizationID))
	query, args = sd.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete organization snapshots")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete organization snapshots")
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// Count returns the organization's snapshot count, optionally filtered by source type.
func (r *Repository) Count(ctx context.Context, organizationID string, sourceTypes ...models.SourceType) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Count")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(snapshotsTable)
	sb.Where(sb.Equal("organization_id", organizationID))
	if len(sourceTypes) > 0 {
		sb.Where(sb.In("source_type", sourceTypeArgs(sourceTypes)...))
	}

	query, args := sb.Build()
	var count int
	if err := r.db.Executor(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count snapshots")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count snapshots")
	}
	return count, nil
}

func (r *Repository) selectRows(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]*models.Snapshot, error) {
	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list snapshots")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list snapshots")
	}

	snapshots := make([]*models.Snapshot, len(rows))
	for i := range rows {
		snapshots[i] = rows[i].toModel()
	}
	return snapshots, nil
}

func sourceTypeArgs(types []models.SourceType) []any {
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = int(t)
	}
	return args
}

func sortByID(snapshots []*models.Snapshot) {
	slices.SortFunc(snapshots, func(a, b *models.Snapshot) int {
		return compareIDs(a.ID, b.ID)
	})
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
