// Package merging creates composite snapshots from matched operands.
package merging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// Store is the slice of the snapshot repository the engine writes to.
type Store interface {
	Create(ctx context.Context, snapshots ...*models.Snapshot) error
	AddEdge(ctx context.Context, parentID, childID uuid.UUID) error
}

// Engine persists composites together with their parent edges. Callers own
// the transaction carried by ctx.
type Engine struct {
	store  Store
	merger *FieldMerger
	logger ectologger.Logger
}

func NewEngine(store Store, logger ectologger.Logger) *Engine {
	return &Engine{
		store:  store,
		merger: NewFieldMerger(),
		logger: logger,
	}
}

// Combine merges operands in order and stores the composite as their child.
func (e *Engine) Combine(ctx context.Context, organizationID string, operands []*models.Snapshot, matchType models.MatchType, confidence *float64) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Combine")
	defer span.End()

	if len(operands) == 0 {
		return nil, fmt.Errorf("combine requires at least one operand")
	}

	composite, conflicts := e.merger.MergeAll(organizationID, operands...)
	composite.MatchType = matchType
	composite.Confidence = confidence

	if len(conflicts) > 0 {
		fields := make([]string, len(conflicts))
		for i, c := range conflicts {
			fields[i] = c.Field
		}
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"composite_id": composite.ID,
			"conflicts":    fields,
		}).Debug("Resolved merge conflicts in favor of the left operand")
	}

	if err := e.Persist(ctx, composite, operands...); err != nil {
		return nil, err
	}
	return composite, nil
}

// Persist stores a composite and links each parent to it.
func (e *Engine) Persist(ctx context.Context, composite *models.Snapshot, parents ...*models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Persist")
	defer span.End()

	if len(parents) == 0 {
		return fmt.Errorf("composite %s must have at least one parent", composite.ID)
	}

	if err := e.store.Create(ctx, composite); err != nil {
		return err
	}
	for _, p := range parents {
		if err := e.store.AddEdge(ctx, p.ID, composite.ID); err != nil {
			return err
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"composite_id": composite.ID,
		"parents":      len(parents),
	}).Debug("Created composite snapshot")
	return nil
}

// Merger exposes the field merger for callers that build composites by hand.
func (e *Engine) Merger() *FieldMerger {
	return e.merger
}
