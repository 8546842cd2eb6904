package lineage

import (
	"context"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/tracing"
)

// Store is the slice of the snapshot repository the traverser reads.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Snapshot, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Snapshot, error)
	Parents(ctx context.Context, childIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
	Children(ctx context.Context, parentIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
}

// Traverser walks the persisted snapshot graph level by level.
type Traverser struct {
	store  Store
	logger ectologger.Logger
}

func NewTraverser(store Store, logger ectologger.Logger) *Traverser {
	return &Traverser{
		store:  store,
		logger: logger,
	}
}

// Ancestors returns every snapshot reachable through parents, excluding raw
// snapshots, in creation order.
func (t *Traverser) Ancestors(ctx context.Context, id uuid.UUID) ([]*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Traverser.Ancestors")
	defer span.End()

	ids, err := t.closure(ctx, id, t.store.Parents)
	if err != nil {
		return nil, err
	}

	snapshots, err := t.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	return ectolinq.Filter(snapshots, func(s *models.Snapshot) bool {
		return !s.SourceType.IsRaw()
	}), nil
}

// Descendants returns the ids of every snapshot reachable through children.
func (t *Traverser) Descendants(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Traverser.Descendants")
	defer span.End()

	return t.closure(ctx, id, t.store.Children)
}

// ChildTree is the chain reached by always following the first child.
func (t *Traverser) ChildTree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Traverser.ChildTree")
	defer span.End()

	return t.chain(ctx, id, t.store.Children)
}

// ParentTree is the chain reached by always following the first parent,
// returned oldest first.
func (t *Traverser) ParentTree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Traverser.ParentTree")
	defer span.End()

	chain, err := t.chain(ctx, id, t.store.Parents)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Lineage loads id with all of its ancestors and descendants into a Graph.
func (t *Traverser) Lineage(ctx context.Context, id uuid.UUID) (*Graph, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Traverser.Lineage")
	defer span.End()

	up, err := t.closure(ctx, id, t.store.Parents)
	if err != nil {
		return nil, err
	}
	down, err := t.closure(ctx, id, t.store.Children)
	if err != nil {
		return nil, err
	}

	ids := append(append([]uuid.UUID{id}, up...), down...)
	return t.Load(ctx, ids)
}

// Load builds a Graph over exactly ids and the edges among them.
func (t *Traverser) Load(ctx context.Context, ids []uuid.UUID) (*Graph, error) {
	snapshots, err := t.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	g := NewGraph()
	for _, s := range snapshots {
		g.AddNode(s)
	}

	children, err := t.store.Children(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range g.Nodes() {
		for _, c := range children[s.ID] {
			if !g.Has(c) {
				continue
			}
			if err := g.AddEdge(s.ID, c); err != nil {
				t.logger.WithContext(ctx).WithError(err).Error("Snapshot graph is corrupted")
				return nil, err
			}
		}
	}
	return g, nil
}

type stepFunc func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)

func (t *Traverser) closure(ctx context.Context, id uuid.UUID, step stepFunc) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{id: true}
	var out []uuid.UUID
	frontier := []uuid.UUID{id}
	for len(frontier) > 0 {
		next, err := step(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = nil
		for _, ids := range next {
			for _, n := range ids {
				if seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, n)
				frontier = append(frontier, n)
			}
		}
	}
	SortIDs(out)
	return out, nil
}

func (t *Traverser) chain(ctx context.Context, id uuid.UUID, step stepFunc) ([]uuid.UUID, error) {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	for cur := id; ; {
		next, err := step(ctx, []uuid.UUID{cur})
		if err != nil {
			return nil, err
		}
		if len(next[cur]) == 0 {
			return out, nil
		}
		cur = next[cur][0]
		if seen[cur] {
			return out, nil
		}
		seen[cur] = true
		out = append(out, cur)
	}
}
