// Package ledger maintains canonical building entries: which snapshot is the
// authoritative record of each physical building, and whether it is active.
package ledger

import (
	"context"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// Store is the canonical building repository.
type Store interface {
	Create(ctx context.Context, building *models.CanonicalBuilding) error
	Get(ctx context.Context, id uuid.UUID) (*models.CanonicalBuilding, error)
	Update(ctx context.Context, building *models.CanonicalBuilding) error
	ForSnapshot(ctx context.Context, snapshotID uuid.UUID) ([]models.CanonicalBuilding, error)
	ListActive(ctx context.Context, organizationID string) ([]models.CanonicalBuilding, error)
}

// SnapshotStore records the back reference from a snapshot to its entry.
type SnapshotStore interface {
	SetCanonicalBuilding(ctx context.Context, id uuid.UUID, canonicalBuildingID *uuid.UUID) error
}

// Ancestry resolves the non-raw ancestors of a snapshot for Verify.
type Ancestry interface {
	Ancestors(ctx context.Context, id uuid.UUID) ([]*models.Snapshot, error)
}

type Ledger struct {
	store     Store
	snapshots SnapshotStore
	logger    ectologger.Logger
}

func New(store Store, snapshots SnapshotStore, logger ectologger.Logger) *Ledger {
	return &Ledger{
		store:     store,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Promote creates a new active entry naming snapshot.
func (l *Ledger) Promote(ctx context.Context, snapshot *models.Snapshot) (*models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Promote")
	defer span.End()

	building := models.NewCanonicalBuilding(snapshot.OrganizationID, snapshot.ID)
	if err := l.store.Create(ctx, building); err != nil {
		return nil, err
	}
	if err := l.link(ctx, snapshot, building); err != nil {
		return nil, err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"canonical_building_id": building.ID,
		"snapshot_id":           snapshot.ID,
	}).Debug("Promoted snapshot to canonical")
	return building, nil
}

// Retire deactivates an entry. The snapshot pointer is kept for audit.
func (l *Ledger) Retire(ctx context.Context, building *models.CanonicalBuilding) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Retire")
	defer span.End()

	building.Active = false
	if err := l.store.Update(ctx, building); err != nil {
		return err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{"canonical_building_id": building.ID}).Debug("Retired canonical building")
	return nil
}

// Detach deactivates an entry whose snapshot no longer exists.
func (l *Ledger) Detach(ctx context.Context, building *models.CanonicalBuilding) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Detach")
	defer span.End()

	building.Active = false
	building.CanonicalSnapshotID = nil
	return l.store.Update(ctx, building)
}

// Reactivate flips an entry back to active and repoints it at snapshot.
func (l *Ledger) Reactivate(ctx context.Context, building *models.CanonicalBuilding, snapshot *models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Reactivate")
	defer span.End()

	building.Active = true
	building.CanonicalSnapshotID = &snapshot.ID
	if err := l.store.Update(ctx, building); err != nil {
		return err
	}
	if err := l.link(ctx, snapshot, building); err != nil {
		return err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"canonical_building_id": building.ID,
		"snapshot_id":           snapshot.ID,
	}).Debug("Reactivated canonical building")
	return nil
}

// Own returns the entry naming snapshotID, preferring an active one. It is
// nil when no entry names the snapshot. Two active entries naming the same
// snapshot is corruption and is reported, never repaired.
func (l *Ledger) Own(ctx context.Context, snapshotID uuid.UUID) (*models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Own")
	defer span.End()

	entries, err := l.store.ForSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var active []models.CanonicalBuilding
	for _, e := range entries {
		if e.Active {
			active = append(active, e)
		}
	}

	switch len(active) {
	case 0:
		latest := entries[len(entries)-1]
		return &latest, nil
	case 1:
		return &active[0], nil
	default:
		ids := make([]string, len(active))
		for i, e := range active {
			ids[i] = e.ID.String()
		}
		l.logger.WithContext(ctx).WithFields(map[string]any{"snapshot_id": snapshotID}).Error("Multiple active canonical buildings for one snapshot")
		return nil, seederrors.NewInvariantViolation("single_active_canonical", "multiple active canonical buildings name snapshot "+snapshotID.String(), ids...)
	}
}

// Active returns the organization's active entries.
func (l *Ledger) Active(ctx context.Context, organizationID string) ([]models.CanonicalBuilding, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Active")
	defer span.End()

	return l.store.ListActive(ctx, organizationID)
}

// Verify checks that each physical building has at most one active entry:
// no snapshot is named twice and no two active snapshots share a non-raw
// ancestor, which also covers one descending from the other.
func (l *Ledger) Verify(ctx context.Context, organizationID string, ancestry Ancestry) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Verify")
	defer span.End()

	active, err := l.store.ListActive(ctx, organizationID)
	if err != nil {
		return err
	}

	named := make(map[uuid.UUID]uuid.UUID, len(active))
	for _, b := range active {
		if b.CanonicalSnapshotID == nil {
			return seederrors.NewInvariantViolation("single_active_canonical", "active canonical building without snapshot", b.ID.String())
		}
		if other, dup := named[*b.CanonicalSnapshotID]; dup {
			return seederrors.NewInvariantViolation("single_active_canonical", "snapshot named by two active canonical buildings", other.String(), b.ID.String())
		}
		named[*b.CanonicalSnapshotID] = b.ID
	}

	// owner maps every snapshot in an active lineage to its entry
	owner := make(map[uuid.UUID]uuid.UUID, len(active))
	for _, b := range active {
		ancestors, err := ancestry.Ancestors(ctx, *b.CanonicalSnapshotID)
		if err != nil {
			return err
		}
		lineage := append([]uuid.UUID{*b.CanonicalSnapshotID}, ectolinq.Map(ancestors, func(s *models.Snapshot) uuid.UUID {
			return s.ID
		})...)
		for _, id := range lineage {
			if other, shared := owner[id]; shared {
				l.logger.WithContext(ctx).WithFields(map[string]any{"snapshot_id": id}).Error("Active canonical buildings share a lineage")
				return seederrors.NewInvariantViolation("single_active_canonical", "active canonical buildings share snapshot "+id.String(),
					other.String(), b.ID.String())
			}
			owner[id] = b.ID
		}
	}
	return nil
}

func (l *Ledger) link(ctx context.Context, snapshot *models.Snapshot, building *models.CanonicalBuilding) error {
	if err := l.snapshots.SetCanonicalBuilding(ctx, snapshot.ID, &building.ID); err != nil {
		return err
	}
	snapshot.CanonicalBuildingID = &building.ID
	return nil
}
