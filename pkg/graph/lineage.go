package graph

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/tracing"
)

// Statement is one parameterized Cypher query.
type Statement struct {
	Cypher string
	Params map[string]any
}

const (
	mergeSnapshot = `
		MERGE (s:Snapshot {id: $id, organization_id: $organization_id})
		SET s.canonical = $canonical, s.match_type = $match_type`
	mergeParent = `
		MERGE (p:Snapshot {id: $parent_id, organization_id: $organization_id})
		WITH p
		MATCH (c:Snapshot {id: $child_id, organization_id: $organization_id})
		MERGE (p)-[:PARENT_OF]->(c)
		SET p.canonical = false`
	deleteSnapshots = `
		MATCH (s:Snapshot {organization_id: $organization_id})
		WHERE s.id IN $ids
		DETACH DELETE s`
	flagPossible = `
		MERGE (s:Snapshot {id: $id, organization_id: $organization_id})
		SET s.match_type = $match_type
		WITH s
		MATCH (c:Snapshot {id: $candidate_id, organization_id: $organization_id})
		MERGE (s)-[:POSSIBLE_MATCH]->(c)`
)

// LineageProjection mirrors building events as (:Snapshot)-[:PARENT_OF]->(:Snapshot).
type LineageProjection struct {
	client *Client
	logger ectologger.Logger
}

func NewLineageProjection(client *Client, logger ectologger.Logger) *LineageProjection {
	return &LineageProjection{client: client, logger: logger}
}

func (p *LineageProjection) Publish(ctx context.Context, evts ...*events.BuildingEvent) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageProjection.Publish")
	defer span.End()

	var statements []Statement
	for _, e := range evts {
		statements = append(statements, Statements(e)...)
	}
	if len(statements) == 0 {
		return nil
	}

	if err := p.client.ExecuteWrite(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to project lineage")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"events":     len(evts),
		"statements": len(statements),
	}).Debug("Projected lineage")
	return nil
}

// Statements translates one event into the Cypher that applies it.
func Statements(e *events.BuildingEvent) []Statement {
	org := e.OrganizationID
	var out []Statement

	if len(e.DeletedIDs) > 0 {
		out = append(out, Statement{Cypher: deleteSnapshots, Params: map[string]any{
			"organization_id": org,
			"ids":             idStrings(e.DeletedIDs),
		}})
	}

	switch e.EventType {
	case events.EventTypeBuildingPossibleMatch:
		if e.CandidateID != nil {
			out = append(out, Statement{Cypher: flagPossible, Params: map[string]any{
				"id":              e.SnapshotID.String(),
				"organization_id": org,
				"match_type":      e.MatchType,
				"candidate_id":    e.CandidateID.String(),
			}})
		}
		return out
	case events.EventTypeBuildingUnmerged:
		return out
	}

	out = append(out, Statement{Cypher: mergeSnapshot, Params: map[string]any{
		"id":              e.SnapshotID.String(),
		"organization_id": org,
		"canonical":       e.CanonicalBuildingID != nil,
		"match_type":      e.MatchType,
	}})
	for _, parent := range e.ParentIDs {
		out = append(out, Statement{Cypher: mergeParent, Params: map[string]any{
			"parent_id":       parent.String(),
			"child_id":        e.SnapshotID.String(),
			"organization_id": org,
		}})
	}
	return out
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
