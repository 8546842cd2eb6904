// Package unmerge reverses matches by dismantling the composites built on
// top of a snapshot and restoring canonical entries for what remains.
package unmerge

import (
	"context"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/database"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/metrics"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

const (
	statusUnmerged = "unmerged"
	statusNoop     = "noop"
	statusFailed   = "failed"
)

type Engine struct {
	logger    ectologger.Logger
	db        database.DB
	snapshots *snapshot.Repository
	traverser *lineage.Traverser
	ledger    *ledger.Ledger
	merger    *merging.Engine
	locker    locking.Locker
	emitter   *events.Emitter
}

func NewEngine(
	logger ectologger.Logger,
	db database.DB,
	snapshots *snapshot.Repository,
	ledger *ledger.Ledger,
	merger *merging.Engine,
	locker locking.Locker,
	emitter *events.Emitter,
) *Engine {
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Engine{
		logger:    logger,
		db:        db,
		snapshots: snapshots,
		traverser: lineage.NewTraverser(snapshots, logger),
		ledger:    ledger,
		merger:    merger,
		locker:    locker,
		emitter:   emitter,
	}
}

// plan is the part of the graph one unmatch rewrites.
type plan struct {
	root      *models.Snapshot
	trunk     []uuid.UUID
	leaf      uuid.UUID
	survivors []*models.Snapshot
}

// Unmatch separates a snapshot from the composites built on it.
//
// The root is the target itself, or its first parent when the target is a
// childless composite. Every composite on the root's first-child chain is
// deleted. The other parents of those composites survive: a single survivor
// becomes canonical on its own, several are recombined into a new composite
// that inherits the dismantled chain's canonical entry. The root gets its own
// entry back, or a fresh one. All of it commits in one transaction.
func (e *Engine) Unmatch(ctx context.Context, snapshotID uuid.UUID) (*models.UnmatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "unmerge.Engine.Unmatch")
	defer span.End()
	defer metrics.ObserveDuration("unmatch", time.Now())

	target, err := e.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id":     snapshotID,
		"organization_id": target.OrganizationID,
	})

	result := &models.UnmatchResult{Status: models.StatusSuccess, SnapshotID: snapshotID}
	var emitted []*events.BuildingEvent

	err = locking.WithOrganizationLock(ctx, e.locker, target.OrganizationID, func(ctx context.Context) error {
		return database.WithTx(ctx, e.db, func(ctx context.Context) error {
			p, err := e.plan(ctx, snapshotID)
			if err != nil {
				return err
			}
			if p == nil {
				result.Status = models.StatusWarning
				result.Message = "snapshot has no matches to undo"
				return nil
			}

			emitted, err = e.apply(ctx, p, result)
			return err
		})
	})
	if err != nil {
		metrics.UnmergesTotal.WithLabelValues(statusFailed).Inc()
		log.WithError(err).Error("Failed to unmatch snapshot")
		return nil, err
	}

	if result.Status == models.StatusWarning {
		metrics.UnmergesTotal.WithLabelValues(statusNoop).Inc()
		log.Info("Nothing to unmatch")
		return result, nil
	}

	metrics.UnmergesTotal.WithLabelValues(statusUnmerged).Inc()
	e.emitter.Emit(ctx, emitted...)

	log.WithFields(map[string]any{
		"deleted":   len(result.Deleted),
		"survivors": len(result.Survivors),
	}).Info("Unmatched snapshot")
	return result, nil
}

// plan resolves the root, the chain to delete and the surviving ancestors.
// It returns nil when the target is not part of any match.
func (e *Engine) plan(ctx context.Context, targetID uuid.UUID) (*plan, error) {
	children, err := e.snapshots.Children(ctx, []uuid.UUID{targetID})
	if err != nil {
		return nil, err
	}

	rootID := targetID
	var trunk []uuid.UUID
	if len(children[targetID]) == 0 {
		parents, err := e.snapshots.Parents(ctx, []uuid.UUID{targetID})
		if err != nil {
			return nil, err
		}
		if len(parents[targetID]) == 0 {
			return nil, nil
		}
		ids := slices.Clone(parents[targetID])
		lineage.SortIDs(ids)
		rootID = ids[0]
		trunk = []uuid.UUID{targetID}
	} else {
		trunk, err = e.traverser.ChildTree(ctx, targetID)
		if err != nil {
			return nil, err
		}
	}

	// a branching chain cannot be split without orphaning the other branch
	chain := append([]uuid.UUID{rootID}, trunk...)
	childrenOf, err := e.snapshots.Children(ctx, chain)
	if err != nil {
		return nil, err
	}
	for i, id := range chain {
		want := 0
		if i < len(chain)-1 {
			want = 1
		}
		if len(childrenOf[id]) != want {
			return nil, seederrors.NewValidationError("snapshot_id", id, "lineage branches below this snapshot; unmatch the other branch first")
		}
	}

	inTrunk := make(map[uuid.UUID]bool, len(trunk)+1)
	inTrunk[rootID] = true
	for _, id := range trunk {
		inTrunk[id] = true
	}

	parentsOf, err := e.snapshots.Parents(ctx, trunk)
	if err != nil {
		return nil, err
	}
	var survivorIDs []uuid.UUID
	for _, id := range trunk {
		for _, parent := range parentsOf[id] {
			if !inTrunk[parent] && !slices.Contains(survivorIDs, parent) {
				survivorIDs = append(survivorIDs, parent)
			}
		}
	}
	lineage.SortIDs(survivorIDs)

	root, err := e.snapshots.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	survivors, err := e.snapshots.GetMany(ctx, survivorIDs)
	if err != nil {
		return nil, err
	}

	return &plan{
		root:      root,
		trunk:     trunk,
		leaf:      trunk[len(trunk)-1],
		survivors: survivors,
	}, nil
}

// apply rewrites the graph and ledger for p inside the caller's transaction.
func (e *Engine) apply(ctx context.Context, p *plan, result *models.UnmatchResult) ([]*events.BuildingEvent, error) {
	org := p.root.OrganizationID

	rootEntry, err := e.ledger.Own(ctx, p.root.ID)
	if err != nil {
		return nil, err
	}
	leafEntry, err := e.ledger.Own(ctx, p.leaf)
	if err != nil {
		return nil, err
	}
	leaf, err := e.snapshots.Get(ctx, p.leaf)
	if err != nil {
		return nil, err
	}

	if _, err := e.snapshots.Delete(ctx, p.trunk); err != nil {
		return nil, err
	}
	result.Deleted = p.trunk
	result.Survivors = make([]uuid.UUID, len(p.survivors))
	for i, s := range p.survivors {
		result.Survivors[i] = s.ID
	}

	emitted := []*events.BuildingEvent{
		events.NewBuildingEvent(events.EventTypeBuildingUnmerged, org, result.SnapshotID).WithDeleted(p.trunk...),
	}

	// claim hands the dismantled chain's entry to s, or promotes s when the
	// entry is gone or already taken.
	claim := func(s *models.Snapshot) (*models.CanonicalBuilding, error) {
		if leafEntry != nil {
			entry := leafEntry
			leafEntry = nil
			return entry, e.ledger.Reactivate(ctx, entry, s)
		}
		return e.ledger.Promote(ctx, s)
	}

	switch len(p.survivors) {
	case 0:
	case 1:
		survivor := p.survivors[0]
		own, err := e.ledger.Own(ctx, survivor.ID)
		if err != nil {
			return nil, err
		}
		if own != nil {
			err = e.ledger.Reactivate(ctx, own, survivor)
		} else {
			own, err = claim(survivor)
		}
		if err != nil {
			return nil, err
		}
		result.SurvivorCanonical = &own.ID
		emitted = append(emitted, events.NewBuildingEvent(events.EventTypeBuildingPromoted, org, survivor.ID).WithCanonical(own.ID))

	default:
		composite, err := e.merger.Combine(ctx, org, p.survivors, leaf.MatchType, leaf.Confidence)
		if err != nil {
			return nil, err
		}
		for _, s := range p.survivors {
			own, err := e.ledger.Own(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			if own != nil && own.Active {
				if err := e.ledger.Retire(ctx, own); err != nil {
					return nil, err
				}
			}
		}
		entry, err := claim(composite)
		if err != nil {
			return nil, err
		}
		result.Recombined = &composite.ID
		result.SurvivorCanonical = &entry.ID
		emitted = append(emitted, events.NewBuildingEvent(events.EventTypeBuildingMerged, org, composite.ID).
			WithCanonical(entry.ID).
			WithParents(result.Survivors...).
			WithMatch(composite.MatchType.String(), composite.Confidence))
	}

	var entry *models.CanonicalBuilding
	if rootEntry != nil {
		err = e.ledger.Reactivate(ctx, rootEntry, p.root)
		entry = rootEntry
	} else {
		entry, err = claim(p.root)
	}
	if err != nil {
		return nil, err
	}
	result.TargetCanonical = &entry.ID
	emitted = append(emitted, events.NewBuildingEvent(events.EventTypeBuildingPromoted, org, p.root.ID).WithCanonical(entry.ID))

	if leafEntry != nil {
		if err := e.ledger.Detach(ctx, leafEntry); err != nil {
			return nil, err
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"root_id":   p.root.ID,
		"deleted":   p.trunk,
		"survivors": result.Survivors,
	}).Debug("Dismantled matched lineage")
	return emitted, nil
}
