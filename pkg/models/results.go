package models

import "github.com/google/uuid"

// Status is the outcome reported by long running operations. Partial success
// is reported through counts rather than errors.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

type ImportResult struct {
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ImportFileID uuid.UUID `json:"import_file_id"`
	Created      int       `json:"created"`
	Skipped      int       `json:"skipped"`
	Batches      int       `json:"batches"`
}

type MappingResult struct {
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	ImportFileID uuid.UUID `json:"import_file_id"`
	Mapped       int       `json:"mapped"`
	Deleted      int       `json:"deleted"`
	FieldErrors  int       `json:"field_errors"`
}

type MatchResult struct {
	Status          Status    `json:"status"`
	Message         string    `json:"message,omitempty"`
	ImportFileID    uuid.UUID `json:"import_file_id"`
	Processed       int       `json:"processed"`
	Merged          int       `json:"merged"`
	PossibleMatches int       `json:"possible_matches"`
	Promoted        int       `json:"promoted"`
}

type UnmatchResult struct {
	Status            Status      `json:"status"`
	Message           string      `json:"message,omitempty"`
	SnapshotID        uuid.UUID   `json:"snapshot_id"`
	Deleted           []uuid.UUID `json:"deleted"`
	Survivors         []uuid.UUID `json:"survivors"`
	Recombined        *uuid.UUID  `json:"recombined,omitempty"`
	TargetCanonical   *uuid.UUID  `json:"target_canonical,omitempty"`
	SurvivorCanonical *uuid.UUID  `json:"survivor_canonical,omitempty"`
}

type DeleteResult struct {
	Status            Status `json:"status"`
	Message           string `json:"message,omitempty"`
	SnapshotsDeleted  int    `json:"snapshots_deleted"`
	CanonicalsDeleted int    `json:"canonicals_deleted"`
}
