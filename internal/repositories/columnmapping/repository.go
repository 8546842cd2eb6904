package columnmapping

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

const mappingsTable = "column_mappings"

var mappingColumns = []string{"id", "organization_id", "source_type", "column_raw", "column_mapped", "user_id", "created_at", "updated_at"}

// Repository persists organization scoped column mappings.
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

// Upsert saves a mapping keyed by (organization, column_raw, source_type). A
// second save of the same key updates column_mapped and user_id in place, so
// concurrent saves never produce duplicates.
func (r *Repository) Upsert(ctx context.Context, mapping *models.ColumnMapping) error {
	ctx, span := tracing.StartSpan(ctx, "columnmapping.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.Must(uuid.NewV7())
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	mapping.UpdatedAt = now

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(mappingsTable)
	ib.Cols(mappingColumns...)
	ib.Values(mapping.ID, mapping.OrganizationID, int(mapping.SourceType), mapping.ColumnRaw, mapping.ColumnMapped, mapping.UserID, mapping.CreatedAt, mapping.UpdatedAt)
	ib.OnConflictUpdate([]string{"organization_id", "column_raw", "source_type"}, "column_mapped", "user_id", "updated_at")

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save column mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save column mapping")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"column_raw":    mapping.ColumnRaw,
		"column_mapped": mapping.ColumnMapped,
	}).Debug("Saved column mapping")
	return nil
}

// Find returns the saved mapping for a raw column representation.
func (r *Repository) Find(ctx context.Context, organizationID string, sourceType models.SourceType, columnRaw string) (*models.ColumnMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapping.Repository.Find")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(mappingColumns...)
	sb.From(mappingsTable)
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.Equal("source_type", int(sourceType)),
		sb.Equal("column_raw", columnRaw),
	)

	query, args := sb.Build()
	var mapping models.ColumnMapping
	if err := r.db.Executor(ctx).GetContext(ctx, &mapping, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seederrors.NewNotFoundError("column mapping", columnRaw)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get column mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get column mapping")
	}
	return &mapping, nil
}

// List returns the organization's mappings for a source type ordered by raw column.
func (r *Repository) List(ctx context.Context, organizationID string, sourceType models.SourceType) ([]models.ColumnMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapping.Repository.List")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(mappingColumns...)
	sb.From(mappingsTable)
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.Equal("source_type", int(sourceType)),
	)
	sb.OrderBy("column_raw").Asc()

	query, args := sb.Build()
	var mappings []models.ColumnMapping
	if err := r.db.Executor(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list column mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list column mappings")
	}
	return mappings, nil
}
