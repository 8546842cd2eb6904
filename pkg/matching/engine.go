// Package matching reconciles newly mapped snapshots against an
// organization's canonical buildings.
package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/database"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/metrics"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/tracing"
)

const DefaultBatchSize = 100

// Engine implements the matching pass and manual match confirmation.
type Engine struct {
	logger    ectologger.Logger
	db        database.DB
	snapshots *snapshot.Repository
	files     *importfile.Repository
	ledger    *ledger.Ledger
	merger    *merging.Engine
	locker    locking.Locker
	emitter   *events.Emitter
	progress  progress.Sink
	scorer    *Scorer
	config    Config
	batchSize int
}

func NewEngine(
	logger ectologger.Logger,
	db database.DB,
	snapshots *snapshot.Repository,
	files *importfile.Repository,
	ledger *ledger.Ledger,
	merger *merging.Engine,
	locker locking.Locker,
	emitter *events.Emitter,
	sink progress.Sink,
	config Config,
	batchSize int,
) (*Engine, error) {
	scorer, err := NewScorer(config.Rules)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if sink == nil {
		sink = progress.Noop{}
	}
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Engine{
		logger:    logger,
		db:        db,
		snapshots: snapshots,
		files:     files,
		ledger:    ledger,
		merger:    merger,
		locker:    locker,
		emitter:   emitter,
		progress:  sink,
		scorer:    scorer,
		config:    config,
		batchSize: batchSize,
	}, nil
}

// Scorer exposes the engine's scorer.
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

type candidate struct {
	snapshot *models.Snapshot
	values   Values
	building *models.CanonicalBuilding
}

// pool is the organization's active canonical set in creation order.
type pool struct {
	candidates []*candidate
}

// best returns the highest scoring candidate sharing at least one field
// with values. Ties go to the older candidate.
func (p *pool) best(scorer *Scorer, values Values) (*candidate, float64) {
	var (
		winner *candidate
		top    float64
	)
	for _, c := range p.candidates {
		score, compared := scorer.Compare(values, c.values)
		if compared == 0 {
			continue
		}
		if winner == nil || score > top {
			winner, top = c, score
		}
	}
	return winner, top
}

func (p *pool) add(c *candidate) {
	p.candidates = append(p.candidates, c)
}

// replace swaps a merged candidate for its composite. The composite is the
// newest snapshot so it moves to the end.
func (p *pool) replace(old, next *candidate) {
	p.candidates = ectolinq.Filter(p.candidates, func(c *candidate) bool { return c != old })
	p.candidates = append(p.candidates, next)
}

func (e *Engine) loadPool(ctx context.Context, organizationID string) (*pool, error) {
	active, err := e.ledger.Active(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.CanonicalBuilding, len(active))
	ids := make([]uuid.UUID, 0, len(active))
	for i := range active {
		b := &active[i]
		if b.CanonicalSnapshotID == nil {
			continue
		}
		byID[*b.CanonicalSnapshotID] = b
		ids = append(ids, *b.CanonicalSnapshotID)
	}

	snapshots, err := e.snapshots.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	p := &pool{candidates: make([]*candidate, 0, len(snapshots))}
	for _, s := range snapshots {
		p.add(&candidate{snapshot: s, values: e.scorer.Normalize(s), building: byID[s.ID]})
	}
	return p, nil
}

type decision struct {
	outcome string
	event   *events.BuildingEvent
}

// MatchFile runs the matching pass over a file's unmatched snapshots in
// creation order. Each batch commits on its own; the whole pass holds the
// organization lock.
func (e *Engine) MatchFile(ctx context.Context, importFileID uuid.UUID) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.MatchFile")
	defer span.End()
	defer metrics.ObserveDuration("match", time.Now())

	result := &models.MatchResult{Status: models.StatusSuccess, ImportFileID: importFileID}

	file, err := e.files.GetFile(ctx, importFileID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"import_file_id":  importFileID,
		"organization_id": file.OrganizationID,
	})

	pending, err := e.snapshots.ListUnmatched(ctx, importFileID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		log.Info("Nothing to match")
		result.Message = "no unmatched snapshots"
		return result, nil
	}

	err = locking.WithOrganizationLock(ctx, e.locker, file.OrganizationID, func(ctx context.Context) error {
		// another run may have matched the file while we waited
		unmatched, err := e.snapshots.ListUnmatched(ctx, importFileID)
		if err != nil {
			return err
		}
		if len(unmatched) == 0 {
			result.Message = "no unmatched snapshots"
			return nil
		}

		candidates, err := e.loadPool(ctx, file.OrganizationID)
		if err != nil {
			return err
		}

		key := progress.Key(progress.JobMatchBuildings, importFileID)
		for start := 0; start < len(unmatched); start += e.batchSize {
			end := min(start+e.batchSize, len(unmatched))

			// the pool is only advanced once the batch commits
			working := &pool{candidates: append([]*candidate(nil), candidates.candidates...)}
			var decisions []decision
			if err := database.WithTx(ctx, e.db, func(ctx context.Context) error {
				decisions = decisions[:0]
				for _, s := range unmatched[start:end] {
					d, err := e.decide(ctx, working, s)
					if err != nil {
						return err
					}
					decisions = append(decisions, d)
				}
				return nil
			}); err != nil {
				log.WithError(err).WithField("batch_start", start).Error("Failed to match batch")
				return err
			}
			candidates = working

			batchEvents := make([]*events.BuildingEvent, 0, len(decisions))
			for _, d := range decisions {
				result.Processed++
				switch d.outcome {
				case metrics.OutcomeMerged:
					result.Merged++
				case metrics.OutcomePossible:
					result.PossibleMatches++
				case metrics.OutcomePromoted:
					result.Promoted++
				}
				metrics.MatchDecisionsTotal.WithLabelValues(d.outcome).Inc()
				batchEvents = append(batchEvents, d.event)
			}
			e.emitter.Emit(ctx, batchEvents...)

			if err := e.progress.Set(ctx, key, progress.Percent(end, len(unmatched))); err != nil {
				log.WithError(err).Warn("Failed to report matching progress")
			}
		}

		if err := e.files.MarkStage(ctx, importFileID, importfile.StageMatching, true); err != nil {
			return err
		}
		if err := e.progress.Set(ctx, key, 100); err != nil {
			log.WithError(err).Warn("Failed to report matching progress")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"processed":        result.Processed,
		"merged":           result.Merged,
		"possible_matches": result.PossibleMatches,
		"promoted":         result.Promoted,
	}).Info("Matched import file")

	return result, nil
}

// decide merges, flags or promotes one snapshot against the pool.
func (e *Engine) decide(ctx context.Context, p *pool, s *models.Snapshot) (decision, error) {
	values := e.scorer.Normalize(s)
	best, score := p.best(e.scorer, values)

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"snapshot_id": s.ID, "score": score})

	switch {
	case best != nil && score >= e.config.AutoMergeThreshold:
		confidence := score
		composite, building, err := e.merge(ctx, s, best.snapshot, models.MatchTypeSystemMatch, &confidence, "")
		if err != nil {
			return decision{}, err
		}
		p.replace(best, &candidate{snapshot: composite, values: e.scorer.Normalize(composite), building: building})

		log.WithField("candidate_id", best.snapshot.ID).Debug("Merged snapshot into canonical building")
		return decision{
			outcome: metrics.OutcomeMerged,
			event: events.NewBuildingEvent(events.EventTypeBuildingMerged, s.OrganizationID, composite.ID).
				WithCanonical(building.ID).
				WithParents(s.ID, best.snapshot.ID).
				WithMatch(models.MatchTypeSystemMatch.String(), &confidence),
		}, nil

	case best != nil && score > e.config.PossibleMatchFloor:
		confidence := score
		if err := e.snapshots.SetMatch(ctx, s.ID, models.MatchTypePossibleMatch, &confidence); err != nil {
			return decision{}, err
		}
		s.MatchType = models.MatchTypePossibleMatch
		s.Confidence = &confidence

		log.WithField("candidate_id", best.snapshot.ID).Debug("Flagged possible match")
		return decision{
			outcome: metrics.OutcomePossible,
			event: events.NewBuildingEvent(events.EventTypeBuildingPossibleMatch, s.OrganizationID, s.ID).
				WithCandidate(best.snapshot.ID).
				WithMatch(models.MatchTypePossibleMatch.String(), &confidence),
		}, nil

	default:
		building, err := e.ledger.Promote(ctx, s)
		if err != nil {
			return decision{}, err
		}
		p.add(&candidate{snapshot: s, values: values, building: building})

		log.Debug("Promoted snapshot")
		return decision{
			outcome: metrics.OutcomePromoted,
			event:   events.NewBuildingEvent(events.EventTypeBuildingPromoted, s.OrganizationID, s.ID).WithCanonical(building.ID),
		}, nil
	}
}

// merge stores the composite of left and right and moves the ledger onto it.
// Left wins conflicting values. Right's active entry is retired; left's own
// entry is repointed at the composite, or a fresh one is created.
func (e *Engine) merge(ctx context.Context, left, right *models.Snapshot, matchType models.MatchType, confidence *float64, user string) (*models.Snapshot, *models.CanonicalBuilding, error) {
	composite, err := e.merger.Combine(ctx, left.OrganizationID, []*models.Snapshot{left, right}, matchType, confidence)
	if err != nil {
		return nil, nil, err
	}
	if user != "" {
		composite.LastModifiedBy = user
		if err := e.snapshots.Update(ctx, composite); err != nil {
			return nil, nil, err
		}
	}

	rightEntry, err := e.ledger.Own(ctx, right.ID)
	if err != nil {
		return nil, nil, err
	}
	if rightEntry != nil && rightEntry.Active {
		if err := e.ledger.Retire(ctx, rightEntry); err != nil {
			return nil, nil, err
		}
	}

	leftEntry, err := e.ledger.Own(ctx, left.ID)
	if err != nil {
		return nil, nil, err
	}
	if leftEntry != nil {
		if err := e.ledger.Reactivate(ctx, leftEntry, composite); err != nil {
			return nil, nil, err
		}
		return composite, leftEntry, nil
	}

	building, err := e.ledger.Promote(ctx, composite)
	if err != nil {
		return nil, nil, err
	}
	return composite, building, nil
}
