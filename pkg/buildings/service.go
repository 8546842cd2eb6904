// Package buildings edits and removes an organization's buildings.
package buildings

import (
	"context"
	"slices"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/mapping"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// Update carries user edits. A blank field value clears the field.
type Update struct {
	Fields    map[string]string `json:"fields" validate:"omitempty,dive,keys,required,endkeys"`
	ExtraData map[string]string `json:"extra_data" validate:"omitempty,dive,keys,required,endkeys"`
	User      string            `json:"-"`
}

type Service struct {
	logger     ectologger.Logger
	db         database.DB
	snapshots  *snapshot.Repository
	canonicals *canonical.Repository
	ledger     *ledger.Ledger
	merger     *merging.Engine
	locker     locking.Locker
	emitter    *events.Emitter
}

func NewService(
	logger ectologger.Logger,
	db database.DB,
	snapshots *snapshot.Repository,
	canonicals *canonical.Repository,
	ledger *ledger.Ledger,
	merger *merging.Engine,
	locker locking.Locker,
	emitter *events.Emitter,
) *Service {
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Service{
		logger:     logger,
		db:         db,
		snapshots:  snapshots,
		canonicals: canonicals,
		ledger:     ledger,
		merger:     merger,
		locker:     locker,
		emitter:    emitter,
	}
}

// UpdateBuilding records edits as a new composite child of snapshotID.
// Edited values are sourced to the new snapshot and everything else keeps
// its previous source. An active canonical entry moves to the child.
func (s *Service) UpdateBuilding(ctx context.Context, snapshotID uuid.UUID, update Update) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "buildings.Service.UpdateBuilding")
	defer span.End()

	current, err := s.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if current.SourceType.IsRaw() {
		return nil, seederrors.NewValidationError("snapshot_id", snapshotID, "raw snapshots cannot be edited")
	}

	cleaned, cleared, err := cleanFields(update.Fields)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id":     snapshotID,
		"organization_id": current.OrganizationID,
	})

	var (
		child *models.Snapshot
		entry *models.CanonicalBuilding
	)
	err = locking.WithOrganizationLock(ctx, s.locker, current.OrganizationID, func(ctx context.Context) error {
		return database.WithTx(ctx, s.db, func(ctx context.Context) error {
			children, err := s.snapshots.Children(ctx, []uuid.UUID{snapshotID})
			if err != nil {
				return err
			}
			if len(children[snapshotID]) > 0 {
				return seederrors.NewValidationError("snapshot_id", snapshotID, "only the latest version of a building can be edited")
			}

			child = s.derive(current, cleaned, cleared, update)
			if err := s.merger.Persist(ctx, child, current); err != nil {
				return err
			}

			entry, err = s.ledger.Own(ctx, current.ID)
			if err != nil {
				return err
			}
			if entry != nil && entry.Active {
				return s.ledger.Reactivate(ctx, entry, child)
			}
			entry = nil
			return nil
		})
	})
	if err != nil {
		log.WithError(err).Error("Failed to update building")
		return nil, err
	}

	event := events.NewBuildingEvent(events.EventTypeBuildingUpdated, child.OrganizationID, child.ID).WithParents(current.ID)
	if entry != nil {
		event.WithCanonical(entry.ID)
	}
	s.emitter.Emit(ctx, event)

	log.WithField("child_id", child.ID).Info("Updated building")
	return child, nil
}

// derive copies current into a new composite and applies the edits.
func (s *Service) derive(current *models.Snapshot, cleaned map[string]string, cleared []string, update Update) *models.Snapshot {
	child, _ := s.merger.Merger().MergeAll(current.OrganizationID, current)
	child.ImportFileID = current.ImportFileID
	child.MatchType = current.MatchType
	child.Confidence = current.Confidence
	child.LastModifiedBy = update.User

	for field, value := range cleaned {
		if previous, ok := current.Value(field); ok && previous == value {
			continue
		}
		child.Set(field, value, child.ID)
	}
	for _, field := range cleared {
		child.Unset(field)
	}

	for key, value := range update.ExtraData {
		if previous, ok := current.ExtraData[key]; ok && previous == value {
			continue
		}
		child.SetExtra(key, value, child.ID)
	}
	return child
}

// cleanFields coerces edited values with the same rules as mapping.
func cleanFields(fields map[string]string) (map[string]string, []string, error) {
	cleaned := make(map[string]string, len(fields))
	var cleared []string
	for name, raw := range fields {
		field, ok := models.LookupField(name)
		if !ok {
			return nil, nil, seederrors.NewValidationError(name, raw, "not a canonical field")
		}
		value, ok, err := mapping.Clean(field, raw)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			cleared = append(cleared, name)
			continue
		}
		cleaned[name] = value
	}
	slices.Sort(cleared)
	return cleaned, cleared, nil
}

// DeleteOrganizationBuildings removes every snapshot, edge and canonical
// entry of one organization.
func (s *Service) DeleteOrganizationBuildings(ctx context.Context, organizationID string) (*models.DeleteResult, error) {
	ctx, span := tracing.StartSpan(ctx, "buildings.Service.DeleteOrganizationBuildings")
	defer span.End()

	if organizationID == "" {
		return nil, seederrors.NewValidationError("organization_id", organizationID, "organization is required")
	}

	result := &models.DeleteResult{Status: models.StatusSuccess}
	err := locking.WithOrganizationLock(ctx, s.locker, organizationID, func(ctx context.Context) error {
		return database.WithTx(ctx, s.db, func(ctx context.Context) error {
			var err error
			if result.CanonicalsDeleted, err = s.canonicals.DeleteByOrganization(ctx, organizationID); err != nil {
				return err
			}
			result.SnapshotsDeleted, err = s.snapshots.DeleteByOrganization(ctx, organizationID)
			return err
		})
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("organization_id", organizationID).Error("Failed to delete organization buildings")
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"organization_id":    organizationID,
		"snapshots_deleted":  result.SnapshotsDeleted,
		"canonicals_deleted": result.CanonicalsDeleted,
	}).Info("Deleted organization buildings")
	return result, nil
}
