package importer

import (
	"context"
	"strings"

	"github.com/google/uuid"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// Upload describes a file about to be imported. A nil RecordID starts a new
// import record named after the file.
type Upload struct {
	OrganizationID string     `json:"organization_id" validate:"required"`
	OwnerID        string     `json:"owner_id"`
	RecordID       *uuid.UUID `json:"import_record_id"`
	FileName       string     `json:"file_name" validate:"required"`
	Kind           string     `json:"source_type" validate:"required"`
}

// ParseKind maps an upload kind (ASSESSED or PORTFOLIO) to its raw source type.
func ParseKind(kind string) (models.SourceType, error) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "ASSESSED", models.SourceTypeRawAssessed.String():
		return models.SourceTypeRawAssessed, nil
	case "PORTFOLIO", models.SourceTypeRawPortfolio.String():
		return models.SourceTypeRawPortfolio, nil
	}
	return 0, seederrors.NewValidationError("source_type", kind, "must be ASSESSED or PORTFOLIO")
}

// CreateFile registers the import file rows will be saved under.
func (i *Importer) CreateFile(ctx context.Context, upload Upload) (*models.ImportFile, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Importer.CreateFile")
	defer span.End()

	sourceType, err := ParseKind(upload.Kind)
	if err != nil {
		return nil, err
	}
	if upload.OrganizationID == "" {
		return nil, seederrors.NewValidationError("organization_id", upload.OrganizationID, "organization is required")
	}

	var recordID uuid.UUID
	if upload.RecordID != nil {
		record, err := i.files.GetRecord(ctx, *upload.RecordID)
		if err != nil {
			return nil, err
		}
		if record.OrganizationID != upload.OrganizationID {
			return nil, seederrors.NewNotFoundError("import record", upload.RecordID.String())
		}
		recordID = record.ID
	} else {
		record := &models.ImportRecord{
			OrganizationID: upload.OrganizationID,
			Name:           upload.FileName,
			OwnerID:        upload.OwnerID,
		}
		if err := i.files.CreateRecord(ctx, record); err != nil {
			return nil, err
		}
		recordID = record.ID
	}

	file := &models.ImportFile{
		ImportRecordID: recordID,
		OrganizationID: upload.OrganizationID,
		FileName:       upload.FileName,
		SourceType:     sourceType,
	}
	if err := i.files.CreateFile(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}
