package importfile

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

const (
	recordsTable = "import_records"
	filesTable   = "import_files"
)

var (
	recordColumns = []string{"id", "organization_id", "name", "owner_id", "created_at"}
	fileColumns   = []string{
		"id", "import_record_id", "organization_id", "file_name", "source_type", "cached_first_row",
		"num_rows", "num_columns", "num_skipped", "raw_save_done", "mapping_done", "matching_done",
		"created_at", "updated_at",
	}
)

// Stage names a pipeline completion flag on an import file.
type Stage string

const (
	StageRawSave  Stage = "raw_save_done"
	StageMapping  Stage = "mapping_done"
	StageMatching Stage = "matching_done"
)

// Repository persists import records and their files.
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

func (r *Repository) CreateRecord(ctx context.Context, record *models.ImportRecord) error {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.CreateRecord")
	defer span.End()

	if record.ID == uuid.Nil {
		record.ID = uuid.Must(uuid.NewV7())
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(recordsTable)
	sb.Cols(recordColumns...)
	sb.Values(record.ID, record.OrganizationID, record.Name, record.OwnerID, record.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create import record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import record")
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.GetRecord")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From(recordsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var record models.ImportRecord
	if err := r.db.Executor(ctx).GetContext(ctx, &record, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seederrors.NewNotFoundError("import record", id.String())
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import record")
	}
	return &record, nil
}

func (r *Repository) CreateFile(ctx context.Context, file *models.ImportFile) error {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.CreateFile")
	defer span.End()

	now := time.Now().UTC()
	if file.ID == uuid.Nil {
		file.ID = uuid.Must(uuid.NewV7())
	}
	file.CreatedAt = now
	file.UpdatedAt = now

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(filesTable)
	sb.Cols(fileColumns...)
	sb.Values(file.ID, file.ImportRecordID, file.OrganizationID, file.FileName, int(file.SourceType), file.CachedFirstRow,
		file.NumRows, file.NumColumns, file.NumSkipped, file.RawSaveDone, file.MappingDone, file.MatchingDone,
		file.CreatedAt, file.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create import file")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import file")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": file.ID, "file_name": file.FileName}).Info("Created import file")
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*models.ImportFile, error) {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.GetFile")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(fileColumns...)
	sb.From(filesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var file models.ImportFile
	if err := r.db.Executor(ctx).GetContext(ctx, &file, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seederrors.NewNotFoundError("import file", id.String())
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import file")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import file")
	}
	return &file, nil
}

// UpdateFile stores the header cache, counters and stage flags of a file.
func (r *Repository) UpdateFile(ctx context.Context, file *models.ImportFile) error {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.UpdateFile")
	defer span.End()

	file.UpdatedAt = time.Now().UTC()

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(filesTable)
	sb.Set(
		sb.Assign("cached_first_row", file.CachedFirstRow),
		sb.Assign("num_rows", file.NumRows),
		sb.Assign("num_columns", file.NumColumns),
		sb.Assign("num_skipped", file.NumSkipped),
		sb.Assign("raw_save_done", file.RawSaveDone),
		sb.Assign("mapping_done", file.MappingDone),
		sb.Assign("matching_done", file.MatchingDone),
		sb.Assign("updated_at", file.UpdatedAt),
	)
	sb.Where(sb.Equal("id", file.ID))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update import file")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import file")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return seederrors.NewNotFoundError("import file", file.ID.String())
	}
	return nil
}

// MarkStage sets one completion flag without rewriting the rest of the row.
func (r *Repository) MarkStage(ctx context.Context, id uuid.UUID, stage Stage, done bool) error {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.MarkStage")
	defer span.End()

	sb := r.db.Flavor().NewUpdateBuilder()
	sb.Update(filesTable)
	sb.Set(
		sb.Assign(string(stage), done),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to mark import file %s", stage)
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import file")
	}
	return nil
}

// ListFiles returns the organization's import files in creation order.
func (r *Repository) ListFiles(ctx context.Context, organizationID string) ([]models.ImportFile, error) {
	ctx, span := tracing.StartSpan(ctx, "importfile.Repository.ListFiles")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(fileColumns...)
	sb.From(filesTable)
	sb.Where(sb.Equal("organization_id", organizationID))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var files []models.ImportFile
	if err := r.db.Executor(ctx).SelectContext(ctx, &files, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list import files")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import files")
	}
	return files, nil
}
