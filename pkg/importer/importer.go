// Package importer turns uploaded tabular rows into raw snapshots.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/database"
	"github.com/afrojet/seed/pkg/metrics"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/tracing"
)

const DefaultBatchSize = 100

// Importer saves rows in bounded batches. Each batch commits on its own, so
// an aborted import keeps the batches already written.
type Importer struct {
	db        database.DB
	snapshots *snapshot.Repository
	files     *importfile.Repository
	progress  progress.Sink
	logger    ectologger.Logger
	batchSize int
}

func NewImporter(
	db database.DB,
	snapshots *snapshot.Repository,
	files *importfile.Repository,
	sink progress.Sink,
	logger ectologger.Logger,
	batchSize int,
) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Importer{
		db:        db,
		snapshots: snapshots,
		files:     files,
		progress:  sink,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Import reads every row of src into raw snapshots owned by the import file.
// Progress is reported as the number of rows read so far.
func (i *Importer) Import(ctx context.Context, importFileID uuid.UUID, src Reader) (*models.ImportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Importer.Import")
	defer span.End()
	defer metrics.ObserveDuration("import", time.Now())

	result := &models.ImportResult{Status: models.StatusSuccess, ImportFileID: importFileID}

	file, err := i.files.GetFile(ctx, importFileID)
	if err != nil {
		return nil, err
	}

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"import_file_id":  importFileID,
		"organization_id": file.OrganizationID,
	})

	if file.RawSaveDone {
		log.Warn("Raw data already saved")
		result.Status = models.StatusWarning
		result.Message = "raw data already saved"
		return result, nil
	}

	sourceType := file.SourceType
	if !sourceType.IsRaw() {
		return nil, fmt.Errorf("import file %s has non raw source type %s", importFileID, sourceType)
	}

	header := src.Header()
	file.SetHeaders(header)

	key := progress.Key(progress.JobSaveRawData, importFileID)
	batch := make([]*models.Snapshot, 0, i.batchSize)
	read := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := database.WithTx(ctx, i.db, func(ctx context.Context) error {
			return i.snapshots.Create(ctx, batch...)
		}); err != nil {
			return err
		}
		result.Created += len(batch)
		result.Batches++
		metrics.RowsImportedTotal.WithLabelValues(sourceType.String()).Add(float64(len(batch)))
		batch = batch[:0]

		if err := i.progress.Set(ctx, key, float64(read)); err != nil {
			log.WithError(err).Warn("Failed to report import progress")
		}
		return nil
	}

	for {
		values, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			read++
			result.Skipped++
			metrics.RowsSkippedTotal.WithLabelValues(sourceType.String()).Inc()
			log.WithError(err).WithFields(map[string]any{
				"row":  read,
				"line": parseErr.Line,
			}).Warn("Skipping unparseable row")
			continue
		}
		if err != nil {
			// whatever was flushed stays; the caller sees how far it got
			log.WithError(err).Error("Failed to read row, aborting import")
			result.Status = models.StatusError
			result.Message = fmt.Sprintf("read failed after %d rows: %v", read, err)
			break
		}
		read++

		if len(values) != len(header) {
			result.Skipped++
			metrics.RowsSkippedTotal.WithLabelValues(sourceType.String()).Inc()
			log.WithFields(map[string]any{
				"row":      read,
				"expected": len(header),
				"got":      len(values),
			}).Warn("Skipping malformed row")
			continue
		}

		batch = append(batch, rawSnapshot(file.OrganizationID, importFileID, sourceType, header, values))
		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	file.NumRows = result.Created
	file.NumSkipped = result.Skipped
	file.RawSaveDone = result.Status != models.StatusError
	if err := i.files.UpdateFile(ctx, file); err != nil {
		return nil, err
	}

	if result.Skipped > 0 && result.Status == models.StatusSuccess {
		result.Status = models.StatusWarning
		result.Message = fmt.Sprintf("%d malformed rows skipped", result.Skipped)
	}

	log.WithFields(map[string]any{
		"created": result.Created,
		"skipped": result.Skipped,
		"batches": result.Batches,
	}).Info("Saved raw data")

	return result, nil
}

// rawSnapshot keeps every column as extra data sourced from the new snapshot.
func rawSnapshot(organizationID string, importFileID uuid.UUID, sourceType models.SourceType, header, values []string) *models.Snapshot {
	s := models.NewSnapshot(organizationID, sourceType)
	s.ImportFileID = &importFileID
	for idx, column := range header {
		if column == "" {
			continue
		}
		s.SetExtra(column, values[idx], s.ID)
	}
	return s
}
