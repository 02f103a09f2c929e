package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// RelationRecorder handles versioned relation states and simple weighted
// relations between entities.
type RelationRecorder struct {
	store graph.Store
}

// CreateRelationStates upserts relation state nodes with endpoint links and
// scene provenance. A state with no explicit provenance inherits the batch's
// default scene as its set_in_scene; a state with none at all is written but
// flagged with a warning naming its ID. Returns the number of states written
// and any warnings.
func (r *RelationRecorder) CreateRelationStates(ctx context.Context, deltas []RelationStateDelta, defaultSceneID, defaultUniverseID string) (int, []string, error) {
	var warnings []string
	for i := range deltas {
		d := deltas[i]

		id := d.ID
		if id == "" && d.Type != "" && d.EntityA != "" && d.EntityB != "" {
			id = fmt.Sprintf("relstate:%s:%s:%s", d.Type, d.EntityA, d.EntityB)
		}
		id = EnsureID("relstate", id)

		props := map[string]interface{}{}
		if d.StartedAt != "" {
			props["started_at"] = d.StartedAt
		}
		if d.EndedAt != "" {
			props["ended_at"] = d.EndedAt
		}

		node := &graph.Node{
			ID:         id,
			Label:      graph.LabelRelationState,
			Type:       d.Type,
			UniverseID: defaultUniverseID,
		}
		if len(props) > 0 {
			node.Props = props
		}
		if err := r.store.UpsertNode(ctx, node); err != nil {
			return 0, nil, fmt.Errorf("failed to upsert relation state %s: %w", id, err)
		}

		if err := r.linkEndpoint(ctx, id, d.EntityA, "A"); err != nil {
			return 0, nil, err
		}
		if err := r.linkEndpoint(ctx, id, d.EntityB, "B"); err != nil {
			return 0, nil, err
		}

		setScene := d.SetInScene
		if setScene == "" && d.ChangedInScene == "" && d.EndedInScene == "" {
			setScene = defaultSceneID
		}

		linked := 0
		for _, prov := range []struct {
			sceneID  string
			relation string
		}{
			{setScene, graph.RelSetInScene},
			{d.ChangedInScene, graph.RelChangedInScene},
			{d.EndedInScene, graph.RelEndedInScene},
		} {
			n, err := r.linkProvenance(ctx, id, prov.sceneID, prov.relation)
			if err != nil {
				return 0, nil, err
			}
			linked += n
		}
		if linked == 0 {
			warnings = append(warnings, fmt.Sprintf("relation state %s has no scene provenance", id))
		}
	}
	return len(deltas), warnings, nil
}

func (r *RelationRecorder) linkEndpoint(ctx context.Context, stateID, entityID, tag string) error {
	if entityID == "" {
		return nil
	}
	exists, err := r.store.NodeExists(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to probe entity %s: %w", entityID, err)
	}
	if !exists {
		return nil
	}
	edge := &graph.Edge{
		SourceID:      stateID,
		Relation:      graph.RelStateFor,
		TargetID:      entityID,
		Discriminator: tag,
	}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to link relation state %s to entity: %w", stateID, err)
	}
	return nil
}

// linkProvenance links a relation state to a scene when that scene exists;
// returns 1 when a link was written.
func (r *RelationRecorder) linkProvenance(ctx context.Context, stateID, sceneID, relation string) (int, error) {
	if sceneID == "" {
		return 0, nil
	}
	exists, err := r.store.NodeExists(ctx, sceneID)
	if err != nil {
		return 0, fmt.Errorf("failed to probe scene %s: %w", sceneID, err)
	}
	if !exists {
		return 0, nil
	}
	edge := &graph.Edge{SourceID: stateID, Relation: relation, TargetID: sceneID}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return 0, fmt.Errorf("failed to link relation state %s to scene: %w", stateID, err)
	}
	return 1, nil
}

// CreateSimpleRelations upserts REL edges between entity pairs. A pair whose
// endpoints are not both present is skipped without error; repeat submission
// overwrites weight and temporal metadata. Returns the number written.
func (r *RelationRecorder) CreateSimpleRelations(ctx context.Context, deltas []RelationDelta) (int, error) {
	written := 0
	for _, d := range deltas {
		if d.EntityA == "" || d.EntityB == "" {
			continue
		}
		present, err := r.store.FilterExisting(ctx, []string{d.EntityA, d.EntityB})
		if err != nil {
			return 0, fmt.Errorf("failed to probe relation endpoints: %w", err)
		}
		if !present[d.EntityA] || !present[d.EntityB] {
			continue
		}

		edge := &graph.Edge{
			SourceID:      d.EntityA,
			Relation:      graph.RelSimple,
			TargetID:      d.EntityB,
			Discriminator: d.Type,
			Weight:        d.Weight,
		}
		if len(d.Temporal) > 0 {
			edge.Props = map[string]interface{}{"temporal": sanitizeMap(d.Temporal)}
		}
		if err := r.store.UpsertEdge(ctx, edge); err != nil {
			return 0, fmt.Errorf("failed to upsert relation %s-%s: %w", d.EntityA, d.EntityB, err)
		}
		written++
	}
	return written, nil
}
