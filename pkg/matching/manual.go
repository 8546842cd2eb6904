package matching

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/metrics"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// ManualMatch confirms that two snapshots describe the same building.
type ManualMatch struct {
	LeftID     uuid.UUID `json:"source_building_id" validate:"required"`
	RightID    uuid.UUID `json:"target_building_id" validate:"required,nefield=LeftID"`
	Confidence *float64  `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	User       string    `json:"-"`
}

// SaveSnapshotMatch merges right into left as a user confirmed match. Left
// wins conflicting values and keeps or gains the canonical entry; right's
// entry is retired.
func (e *Engine) SaveSnapshotMatch(ctx context.Context, match ManualMatch) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.SaveSnapshotMatch")
	defer span.End()

	if match.LeftID == match.RightID {
		return nil, seederrors.NewValidationError("target_building_id", match.RightID, "a snapshot cannot be matched with itself")
	}

	left, err := e.snapshots.Get(ctx, match.LeftID)
	if err != nil {
		return nil, err
	}
	right, err := e.snapshots.Get(ctx, match.RightID)
	if err != nil {
		return nil, err
	}
	if left.OrganizationID != right.OrganizationID {
		return nil, seederrors.NewValidationError("target_building_id", right.ID, "snapshots belong to different organizations")
	}
	if left.SourceType.IsRaw() || right.SourceType.IsRaw() {
		return nil, seederrors.NewValidationError("source_building_id", left.ID, "raw snapshots cannot be matched")
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"organization_id": left.OrganizationID,
		"left_id":         left.ID,
		"right_id":        right.ID,
	})

	var (
		composite *models.Snapshot
		building  *models.CanonicalBuilding
	)
	err = locking.WithOrganizationLock(ctx, e.locker, left.OrganizationID, func(ctx context.Context) error {
		related, err := e.related(ctx, left.ID, right.ID)
		if err != nil {
			return err
		}
		if related {
			return seederrors.NewValidationError("target_building_id", right.ID, "snapshots already share a lineage")
		}
		if err := e.ensureCurrent(ctx, "source_building_id", left); err != nil {
			return err
		}
		if err := e.ensureCurrent(ctx, "target_building_id", right); err != nil {
			return err
		}

		return database.WithTx(ctx, e.db, func(ctx context.Context) error {
			composite, building, err = e.merge(ctx, left, right, models.MatchTypeUserMatch, match.Confidence, match.User)
			return err
		})
	})
	if err != nil {
		log.WithError(err).Error("Failed to save snapshot match")
		return nil, err
	}

	metrics.MatchDecisionsTotal.WithLabelValues(metrics.OutcomeMerged).Inc()
	e.emitter.Emit(ctx, events.NewBuildingEvent(events.EventTypeBuildingMerged, left.OrganizationID, composite.ID).
		WithCanonical(building.ID).
		WithParents(left.ID, right.ID).
		WithMatch(models.MatchTypeUserMatch.String(), match.Confidence))

	log.WithField("composite_id", composite.ID).Info("Saved snapshot match")
	return composite, nil
}

// ensureCurrent rejects a snapshot that was already merged forward or whose
// canonical entry was retired. Merging it again would give one building two
// active entries.
func (e *Engine) ensureCurrent(ctx context.Context, field string, s *models.Snapshot) error {
	children, err := e.snapshots.Children(ctx, []uuid.UUID{s.ID})
	if err != nil {
		return err
	}
	if len(children[s.ID]) > 0 {
		return seederrors.NewValidationError(field, s.ID, "snapshot is not the current version of its building")
	}

	own, err := e.ledger.Own(ctx, s.ID)
	if err != nil {
		return err
	}
	if own != nil && !own.Active {
		return seederrors.NewValidationError(field, s.ID, "snapshot is not the current version of its building")
	}
	return nil
}

// related reports whether either snapshot descends from the other.
func (e *Engine) related(ctx context.Context, a, b uuid.UUID) (bool, error) {
	traverser := lineage.NewTraverser(e.snapshots, e.logger)
	for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
		descendants, err := traverser.Descendants(ctx, pair[0])
		if err != nil {
			return false, err
		}
		if slices.Contains(descendants, pair[1]) {
			return true, nil
		}
	}
	return false, nil
}
