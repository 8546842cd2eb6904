package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ColumnMapping is a saved raw column -> canonical field decision, unique per
// (organization, column_raw, source_type). ColumnRaw is either a plain column
// name or a JSON list of names concatenated in order.
type ColumnMapping struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	SourceType     SourceType `json:"source_type" db:"source_type"`
	ColumnRaw      string     `json:"column_raw" db:"column_raw"`
	ColumnMapped   string     `json:"column_mapped" db:"column_mapped"`
	UserID         string     `json:"user_id" db:"user_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// RawColumns expands ColumnRaw into its ordered list of raw column names.
func (m *ColumnMapping) RawColumns() []string {
	return ParseRawColumns(m.ColumnRaw)
}

func ParseRawColumns(repr string) []string {
	trimmed := strings.TrimSpace(repr)
	if strings.HasPrefix(trimmed, "[") {
		var cols []string
		if err := json.Unmarshal([]byte(trimmed), &cols); err == nil {
			return cols
		}
	}
	return []string{repr}
}

// RawColumnsRepr renders raw columns in their persisted form.
func RawColumnsRepr(cols []string) string {
	if len(cols) == 1 {
		return cols[0]
	}
	b, _ := json.Marshal(cols)
	return string(b)
}
