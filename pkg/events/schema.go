// Package events publishes canonical building lifecycle changes.
package events

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

type EventType string

const (
	EventTypeBuildingPromoted      EventType = "building.promoted"
	EventTypeBuildingMerged        EventType = "building.merged"
	EventTypeBuildingPossibleMatch EventType = "building.possible_match"
	EventTypeBuildingUnmerged      EventType = "building.unmerged"
	EventTypeBuildingUpdated       EventType = "building.updated"
)

// BuildingEvent describes one committed change to the snapshot graph or ledger.
type BuildingEvent struct {
	EventType           EventType   `json:"event_type"`
	SchemaVersion       string      `json:"schema_version"`
	OrganizationID      string      `json:"organization_id"`
	SnapshotID          uuid.UUID   `json:"snapshot_id"`
	CanonicalBuildingID *uuid.UUID  `json:"canonical_building_id,omitempty"`
	ParentIDs           []uuid.UUID `json:"parent_ids,omitempty"`
	DeletedIDs          []uuid.UUID `json:"deleted_ids,omitempty"`
	CandidateID         *uuid.UUID  `json:"candidate_id,omitempty"`
	MatchType           string      `json:"match_type,omitempty"`
	Confidence          *float64    `json:"confidence,omitempty"`
	Timestamp           time.Time   `json:"timestamp"`
}

func NewBuildingEvent(eventType EventType, organizationID string, snapshotID uuid.UUID) *BuildingEvent {
	return &BuildingEvent{
		EventType:      eventType,
		SchemaVersion:  SchemaVersion,
		OrganizationID: organizationID,
		SnapshotID:     snapshotID,
		Timestamp:      time.Now().UTC(),
	}
}

func (e *BuildingEvent) WithCanonical(id uuid.UUID) *BuildingEvent {
	e.CanonicalBuildingID = &id
	return e
}

func (e *BuildingEvent) WithParents(ids ...uuid.UUID) *BuildingEvent {
	e.ParentIDs = append(e.ParentIDs, ids...)
	return e
}

func (e *BuildingEvent) WithDeleted(ids ...uuid.UUID) *BuildingEvent {
	e.DeletedIDs = append(e.DeletedIDs, ids...)
	return e
}

func (e *BuildingEvent) WithMatch(matchType string, confidence *float64) *BuildingEvent {
	e.MatchType = matchType
	e.Confidence = confidence
	return e
}

func (e *BuildingEvent) WithCandidate(id uuid.UUID) *BuildingEvent {
	e.CandidateID = &id
	return e
}
