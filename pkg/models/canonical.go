package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CanonicalBuilding is the ledger entry naming the authoritative snapshot of
// one physical building. Entries are deactivated, never removed.
type CanonicalBuilding struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	OrganizationID      string     `json:"organization_id" db:"organization_id"`
	CanonicalSnapshotID *uuid.UUID `json:"canonical_snapshot_id,omitempty" db:"canonical_snapshot_id"`
	Active              bool       `json:"active" db:"active"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

func NewCanonicalBuilding(organizationID string, snapshotID uuid.UUID) *CanonicalBuilding {
	now := time.Now().UTC()
	return &CanonicalBuilding{
		ID:                  uuid.Must(uuid.NewV7()),
		OrganizationID:      organizationID,
		CanonicalSnapshotID: &snapshotID,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// PointsAt reports whether the entry's canonical snapshot is id.
func (c *CanonicalBuilding) PointsAt(id uuid.UUID) bool {
	return c.CanonicalSnapshotID != nil && *c.CanonicalSnapshotID == id
}

func (c *CanonicalBuilding) String() string {
	snapshot := "None"
	if c.CanonicalSnapshotID != nil {
		snapshot = c.CanonicalSnapshotID.String()
	}
	return fmt.Sprintf("pk: %s - snapshot: %s - active: %t", c.ID, snapshot, c.Active)
}
