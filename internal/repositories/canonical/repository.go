package canonical

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
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

const canonicalTable = "canonical_buildings"

var canonicalColumns = []string{"id", "organization_id", "canonical_snapshot_id", "active", "created_at", "updated_at"}

// Repository persists canonical building ledger entries.
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

func (r *Repository) Create(ctx context.Context, building *models.CanonicalBuilding) error {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Create")
	defer span.End()

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(canonicalTable)
	sb.Cols(canonicalColumns...)
	sb.Values(building.ID, building.OrganizationID, building.CanonicalSnapshotID, building.Active, building.CreatedAt, building.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create canonical building")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create canonical building")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": building.ID, "snapshot_id": building.CanonicalSnapshotID}).Debug("Created canonical building")
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(canonicalColumns...)
	sb.From(canonicalTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var building models.CanonicalBuilding
	if err := r.db.Executor(ctx).GetContext(ctx, &building, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seederrors.NewNotFoundError("canonical building", id.String())
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get canonical building")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical building")
	}
	return &building, nil
}

// ForSnapshot returns the entries naming snapshotID, active or not, oldest first.
func (r *Repository) ForSnapshot(ctx context.Context, snapshotID uuid.UUID) ([]models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.ForSnapshot")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(canonicalColumns...)
	sb.From(canonicalTable)
	sb.Where(sb.Equal("canonical_snapshot_id", snapshotID))
	sb.OrderBy("id").Asc()

	return r.selectRows(ctx, sb)
}

// ListActive returns the organization's active entries in creation order.
func (r *Repository) ListActive(ctx context.Context, organizationID string) ([]models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.ListActive")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(canonicalColumns...)
	sb.From(canonicalTable)
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.Equal("active", true),
	)
	sb.OrderBy("id").Asc()

	return r.selectRows(ctx, sb)
}

// Update stores the active flag and snapshot pointer of an entry.
func (r *Repository) Update(ctx context.Context, building *models.CanonicalBuilding) error {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Update")
	defer span.End()

	building.UpdatedAt = time.Now().UTC()

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(canonicalTable)
	sb.Set(
		sb.Assign("canonical_snapshot_id", building.CanonicalSnapshotID),
		sb.Assign("active", building.Active),
		sb.Assign("updated_at", building.UpdatedAt),
	)
	sb.Where(sb.Equal("id", building.ID))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update canonical building")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update canonical building")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return seederrors.NewNotFoundError("canonical building", building.ID.String())
	}
	return nil
}

// DeleteByOrganization physically removes the organization's ledger. Only
// organization deletion does this; merges and unmerges deactivate instead.
func (r *Repository) DeleteByOrganization(ctx context.Context, organizationID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.DeleteByOrganization")
	defer span.End()

	sb := r.db.Flavor().NewDeleteBuilder()
	sb.DeleteFrom(canonicalTable)
	sb.Where(sb.Equal("organization_id", organizationID))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete canonical buildings")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete canonical buildings")
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

func (r *Repository) selectRows(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.CanonicalBuilding, error) {
	query, args := sb.Build()
	var buildings []models.CanonicalBuilding
	if err := r.db.Executor(ctx).SelectContext(ctx, &buildings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list canonical buildings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical buildings")
	}
	return buildings, nil
}
