package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportRecord is an organization-owned dataset grouping uploaded files.
type ImportRecord struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ImportFile is one uploaded file and its pipeline progress flags.
type ImportFile struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ImportRecordID uuid.UUID  `json:"import_record_id" db:"import_record_id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	FileName       string     `json:"file_name" db:"file_name"`
	SourceType     SourceType `json:"source_type" db:"source_type"`
	CachedFirstRow string     `json:"cached_first_row" db:"cached_first_row"`
	NumRows        int        `json:"num_rows" db:"num_rows"`
	NumColumns     int        `json:"num_columns" db:"num_columns"`
	NumSkipped     int        `json:"num_skipped" db:"num_skipped"`
	RawSaveDone    bool       `json:"raw_save_done" db:"raw_save_done"`
	MappingDone    bool       `json:"mapping_done" db:"mapping_done"`
	MatchingDone   bool       `json:"matching_done" db:"matching_done"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Headers decodes the cached header row.
func (f *ImportFile) Headers() []string {
	var headers []string
	if f.CachedFirstRow == "" {
		return headers
	}
	if err := json.Unmarshal([]byte(f.CachedFirstRow), &headers); err != nil {
		return nil
	}
	return headers
}

func (f *ImportFile) SetHeaders(headers []string) {
	b, _ := json.Marshal(headers)
	f.CachedFirstRow = string(b)
	f.NumColumns = len(headers)
}
