// Package lineage models the snapshot parent/child graph as an arena of
// snapshots addressed by id plus explicit adjacency lists, and walks it.
package lineage

import (
	"bytes"
	"slices"

	"github.com/google/uuid"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
)

// Edge is a directed parent -> child link.
type Edge struct {
	ParentID uuid.UUID `json:"parent_id"`
	ChildID  uuid.UUID `json:"child_id"`
}

// Graph is an in-memory slice of the snapshot DAG. Adjacency lists are kept
// in id order, which is creation order.
type Graph struct {
	nodes    map[uuid.UUID]*models.Snapshot
	children map[uuid.UUID][]uuid.UUID
	parents  map[uuid.UUID][]uuid.UUID
}

func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[uuid.UUID]*models.Snapshot),
		children: make(map[uuid.UUID][]uuid.UUID),
		parents:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// AddNode adds a snapshot, replacing the stored record if the id is known.
func (g *Graph) AddNode(s *models.Snapshot) {
	if _, exists := g.nodes[s.ID]; !exists {
		g.children[s.ID] = []uuid.UUID{}
		g.parents[s.ID] = []uuid.UUID{}
	}
	g.nodes[s.ID] = s
}

// AddEdge links parent -> child. Both nodes must exist. Self loops and edges
// that would close a cycle are rejected.
func (g *Graph) AddEdge(parentID, childID uuid.UUID) error {
	if _, exists := g.nodes[parentID]; !exists {
		return seederrors.NewNotFoundError("snapshot", parentID.String())
	}
	if _, exists := g.nodes[childID]; !exists {
		return seederrors.NewNotFoundError("snapshot", childID.String())
	}
	if parentID == childID {
		return seederrors.NewInvariantViolation("acyclic", "self loop", parentID.String())
	}
	if slices.Contains(g.Descendants(childID), parentID) {
		return seederrors.NewInvariantViolation("acyclic", "edge would close a cycle", parentID.String(), childID.String())
	}

	g.children[parentID] = insertSorted(g.children[parentID], childID)
	g.parents[childID] = insertSorted(g.parents[childID], parentID)
	return nil
}

// RemoveNode drops a snapshot and every edge touching it.
func (g *Graph) RemoveNode(id uuid.UUID) {
	for _, p := range g.parents[id] {
		g.children[p] = remove(g.children[p], id)
	}
	for _, c := range g.children[id] {
		g.parents[c] = remove(g.parents[c], id)
	}
	delete(g.nodes, id)
	delete(g.children, id)
	delete(g.parents, id)
}

func (g *Graph) Node(id uuid.UUID) (*models.Snapshot, bool) {
	s, ok := g.nodes[id]
	return s, ok
}

func (g *Graph) Has(id uuid.UUID) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Parents(id uuid.UUID) []uuid.UUID {
	return g.parents[id]
}

func (g *Graph) Children(id uuid.UUID) []uuid.UUID {
	return g.children[id]
}

// Nodes returns every snapshot in id order.
func (g *Graph) Nodes() []*models.Snapshot {
	nodes := make([]*models.Snapshot, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *models.Snapshot) int { return Compare(a.ID, b.ID) })
	return nodes
}

// Edges returns every edge ordered by parent then child.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, n := range g.Nodes() {
		for _, c := range g.children[n.ID] {
			edges = append(edges, Edge{ParentID: n.ID, ChildID: c})
		}
	}
	return edges
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Ancestors returns every snapshot reachable through parents, in id order.
func (g *Graph) Ancestors(id uuid.UUID) []uuid.UUID {
	return g.reach(id, g.parents)
}

// Descendants returns every snapshot reachable through children, in id order.
func (g *Graph) Descendants(id uuid.UUID) []uuid.UUID {
	return g.reach(id, g.children)
}

func (g *Graph) reach(id uuid.UUID, next map[uuid.UUID][]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	stack := slices.Clone(next[id])
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, next[cur]...)
	}

	out := make([]uuid.UUID, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.SortFunc(out, Compare)
	return out
}

// ChildTree follows the first child at each step.
func (g *Graph) ChildTree(id uuid.UUID) []uuid.UUID {
	return g.chain(id, g.children)
}

// ParentTree follows the first parent at each step and returns the chain
// oldest first, ending just above id.
func (g *Graph) ParentTree(id uuid.UUID) []uuid.UUID {
	chain := g.chain(id, g.parents)
	slices.Reverse(chain)
	return chain
}

func (g *Graph) chain(id uuid.UUID, next map[uuid.UUID][]uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	for cur := id; len(next[cur]) > 0; {
		cur = next[cur][0]
		if seen[cur] {
			break
		}
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

// HasCycle reports a cycle and its path. AddEdge prevents cycles, so a hit
// means the graph was loaded from corrupted storage.
func (g *Graph) HasCycle() (bool, []uuid.UUID) {
	visited := make(map[uuid.UUID]bool)
	onStack := make(map[uuid.UUID]bool)
	path := make(map[uuid.UUID]uuid.UUID)
	var cycle []uuid.UUID

	var dfs func(id uuid.UUID) bool
	dfs = func(id uuid.UUID) bool {
		visited[id] = true
		onStack[id] = true
		for _, c := range g.children[id] {
			if !visited[c] {
				path[c] = id
				if dfs(c) {
					return true
				}
			} else if onStack[c] {
				cycle = []uuid.UUID{c}
				for cur := id; cur != c; cur = path[cur] {
					cycle = append([]uuid.UUID{cur}, cycle...)
				}
				cycle = append([]uuid.UUID{c}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, n := range g.Nodes() {
		if !visited[n.ID] && dfs(n.ID) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns snapshots with every parent before its children.
func (g *Graph) TopologicalSort() ([]*models.Snapshot, error) {
	if cyclic, path := g.HasCycle(); cyclic {
		ids := make([]string, len(path))
		for i, id := range path {
			ids[i] = id.String()
		}
		return nil, seederrors.NewInvariantViolation("acyclic", "cycle in snapshot graph", ids...)
	}

	visited := make(map[uuid.UUID]bool)
	var out []*models.Snapshot
	var visit func(id uuid.UUID)
	visit = func(id uuid.UUID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, p := range g.parents[id] {
			visit(p)
		}
		out = append(out, g.nodes[id])
	}
	for _, n := range g.Nodes() {
		visit(n.ID)
	}
	return out, nil
}

// Compare orders ids by their bytes; for v7 ids that is creation order.
func Compare(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// SortIDs orders ids in place by creation.
func SortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, Compare)
}

func insertSorted(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	i, found := slices.BinarySearchFunc(ids, id, Compare)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func remove(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	return slices.DeleteFunc(ids, func(x uuid.UUID) bool { return x == id })
}
