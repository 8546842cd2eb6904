// Package mapping applies confirmed column mappings to raw snapshots.
package mapping

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/metrics"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/tracing"
)

const DefaultBatchSize = 100

// Mapping is canonical field -> raw columns. Several raw columns are
// concatenated in list order.
type Mapping map[string][]string

type Executor struct {
	db        database.DB
	snapshots *snapshot.Repository
	files     *importfile.Repository
	mapper    *columnmapper.Mapper
	progress  progress.Sink
	logger    ectologger.Logger
	batchSize int
}

func NewExecutor(
	db database.DB,
	snapshots *snapshot.Repository,
	files *importfile.Repository,
	mapper *columnmapper.Mapper,
	sink progress.Sink,
	logger ectologger.Logger,
	batchSize int,
) *Executor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Executor{
		db:        db,
		snapshots: snapshots,
		files:     files,
		mapper:    mapper,
		progress:  sink,
		logger:    logger,
		batchSize: batchSize,
	}
}

// MapSnapshot derives the mapped snapshot of one raw snapshot. Values that
// fail coercion are left unset and returned as errors.
func MapSnapshot(raw *models.Snapshot, mapping Mapping) (*models.Snapshot, []error) {
	mapped := models.NewSnapshot(raw.OrganizationID, raw.SourceType.Mapped())
	mapped.ImportFileID = raw.ImportFileID

	var errs []error
	for _, field := range models.CanonicalFields {
		columns, ok := mapping[field.Name]
		if !ok || len(columns) == 0 {
			continue
		}

		value, present := rawValue(raw, columns)
		if !present {
			continue
		}

		cleaned, ok, err := Clean(field, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			mapped.Set(field.Name, cleaned, mapped.ID)
		}
	}

	for key, value := range raw.ExtraData {
		source, ok := raw.ExtraDataSources[key]
		if !ok {
			source = raw.ID
		}
		mapped.SetExtra(key, value, source)
	}

	return mapped, errs
}

// rawValue joins the listed columns with a single space, skipping columns the
// row does not carry.
func rawValue(raw *models.Snapshot, columns []string) (string, bool) {
	if len(columns) == 1 {
		v, ok := raw.ExtraData[columns[0]]
		return v, ok
	}

	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		if v, ok := raw.ExtraData[column]; ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " "), len(parts) > 0
}

// derivedFrom returns the raw snapshot a mapped snapshot was produced from.
// Mapped extra data keeps the raw snapshot as its source.
func derivedFrom(mapped *models.Snapshot) (uuid.UUID, bool) {
	keys := mapped.ExtraKeys()
	if len(keys) == 0 {
		return uuid.Nil, false
	}
	return mapped.ExtraDataSources[keys[0]], true
}

// MapFile maps an import file with the organization's saved column mappings.
func (e *Executor) MapFile(ctx context.Context, importFileID uuid.UUID) (*models.MappingResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mapping.Executor.MapFile")
	defer span.End()

	file, err := e.files.GetFile(ctx, importFileID)
	if err != nil {
		return nil, err
	}

	resolved, err := e.mapper.Resolve(ctx, file.OrganizationID, file.SourceType)
	if err != nil {
		return nil, err
	}
	return e.Map(ctx, importFileID, resolved)
}

// Map produces one mapped snapshot per raw snapshot of the file. Mapped
// snapshots left over from an earlier run are replaced unless a merge or the
// ledger already consumed them; their raw rows are not mapped again.
func (e *Executor) Map(ctx context.Context, importFileID uuid.UUID, mapping Mapping) (*models.MappingResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mapping.Executor.Map")
	defer span.End()
	defer metrics.ObserveDuration("map", time.Now())

	result := &models.MappingResult{Status: models.StatusSuccess, ImportFileID: importFileID}

	file, err := e.files.GetFile(ctx, importFileID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"import_file_id":  importFileID,
		"organization_id": file.OrganizationID,
	})

	if file.MatchingDone {
		refused := seederrors.NewAlreadyProcessedError("import file", importFileID.String(), string(importfile.StageMatching))
		log.WithError(refused).Warn("Refusing to remap a matched file")
		result.Status = models.StatusWarning
		result.Message = refused.Error()
		return result, nil
	}
	if !file.RawSaveDone {
		log.Warn("Raw data not saved yet")
		result.Status = models.StatusWarning
		result.Message = "raw data has not been saved"
		return result, nil
	}

	for name := range mapping {
		if !models.IsCanonicalField(name) {
			log.WithField("field", name).Warn("Ignoring mapping onto unknown field")
		}
	}

	consumed, err := e.clearMapped(ctx, file, result)
	if err != nil {
		return nil, err
	}

	raws, err := e.snapshots.ListByImportFile(ctx, importFileID, models.SourceTypeRawAssessed, models.SourceTypeRawPortfolio)
	if err != nil {
		return nil, err
	}
	raws = ectolinq.Filter(raws, func(s *models.Snapshot) bool { return !consumed[s.ID] })

	key := progress.Key(progress.JobMapData, importFileID)
	for start := 0; start < len(raws); start += e.batchSize {
		end := min(start+e.batchSize, len(raws))

		batch := make([]*models.Snapshot, 0, end-start)
		for _, raw := range raws[start:end] {
			mapped, errs := MapSnapshot(raw, mapping)
			for _, fieldErr := range errs {
				result.FieldErrors++
				var v *seederrors.ValidationError
				if errors.As(fieldErr, &v) {
					metrics.FieldErrorsTotal.WithLabelValues(v.Field).Inc()
				}
				log.WithError(fieldErr).WithField("raw_snapshot_id", raw.ID).Debug("Value left unset")
			}
			batch = append(batch, mapped)
		}

		if err := database.WithTx(ctx, e.db, func(ctx context.Context) error {
			return e.snapshots.Create(ctx, batch...)
		}); err != nil {
			return nil, err
		}
		result.Mapped += len(batch)
		if len(batch) > 0 {
			metrics.SnapshotsMappedTotal.WithLabelValues(batch[0].SourceType.String()).Add(float64(len(batch)))
		}

		if err := e.progress.Set(ctx, key, progress.Percent(end, len(raws))); err != nil {
			log.WithError(err).Warn("Failed to report mapping progress")
		}
	}

	if err := e.files.MarkStage(ctx, importFileID, importfile.StageMapping, true); err != nil {
		return nil, err
	}
	if err := e.progress.Set(ctx, key, 100); err != nil {
		log.WithError(err).Warn("Failed to report mapping progress")
	}

	if result.FieldErrors > 0 {
		result.Status = models.StatusWarning
		result.Message = "some values could not be coerced and were left unset"
	}

	log.WithFields(map[string]any{
		"mapped":       result.Mapped,
		"deleted":      result.Deleted,
		"field_errors": result.FieldErrors,
	}).Info("Mapped import file")

	return result, nil
}

// clearMapped deletes the file's mapped snapshots that nothing has consumed
// and returns the raw snapshots whose mapped result survives.
func (e *Executor) clearMapped(ctx context.Context, file *models.ImportFile, result *models.MappingResult) (map[uuid.UUID]bool, error) {
	mappedTypes := []models.SourceType{models.SourceTypeMappedAssessed, models.SourceTypeMappedPortfolio}

	existing, err := e.snapshots.ListByImportFile(ctx, file.ID, mappedTypes...)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	childless, err := e.snapshots.ListChildless(ctx, file.ID, mappedTypes...)
	if err != nil {
		return nil, err
	}
	removable := ectolinq.Filter(childless, func(s *models.Snapshot) bool { return s.CanonicalBuildingID == nil })
	removableIDs := make(map[uuid.UUID]bool, len(removable))
	for _, s := range removable {
		removableIDs[s.ID] = true
	}

	consumed := map[uuid.UUID]bool{}
	for _, s := range existing {
		if removableIDs[s.ID] {
			continue
		}
		if rawID, ok := derivedFrom(s); ok {
			consumed[rawID] = true
		}
	}

	if len(removable) > 0 {
		var deleted int
		if err := database.WithTx(ctx, e.db, func(ctx context.Context) error {
			deleted, err = e.snapshots.Delete(ctx, ectolinq.Map(removable, func(s *models.Snapshot) uuid.UUID { return s.ID }))
			return err
		}); err != nil {
			return nil, err
		}
		result.Deleted = deleted
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"import_file_id": file.ID,
		"deleted":        result.Deleted,
		"kept":           len(existing) - len(removable),
	}).Info("Cleared previously mapped snapshots")

	return consumed, nil
}
