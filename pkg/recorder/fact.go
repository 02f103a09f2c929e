package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// FactRecorder handles fact creation, provenance linking, participant roles
// and evidence promotion.
type FactRecorder struct {
	store graph.Store
}

// CreateFacts upserts facts with their scene provenance, participant role
// edges and evidence sources. Every fact must resolve to a scene (own
// occurs_in or the batch default) that already exists in the graph; a batch
// with any unresolvable fact writes nothing for the family.
func (r *FactRecorder) CreateFacts(ctx context.Context, deltas []FactDelta, defaultSceneID, defaultUniverseID string) (int, error) {
	type row struct {
		delta   FactDelta
		id      string
		sceneID string
	}

	rows := make([]row, 0, len(deltas))
	for _, d := range deltas {
		sceneID := d.OccursIn
		if sceneID == "" {
			sceneID = defaultSceneID
		}
		if sceneID == "" {
			return 0, fmt.Errorf("%w: fact %q has no occurs_in scene and the batch has no default", ErrValidation, d.Description)
		}
		exists, err := r.store.NodeExists(ctx, sceneID)
		if err != nil {
			return 0, fmt.Errorf("failed to probe scene %s: %w", sceneID, err)
		}
		if !exists {
			return 0, fmt.Errorf("%w: fact provenance scene %q does not exist", ErrValidation, sceneID)
		}
		rows = append(rows, row{delta: d, id: EnsureID("fact", d.ID), sceneID: sceneID})
	}

	for _, row := range rows {
		if err := r.writeFact(ctx, row.id, row.sceneID, &row.delta, defaultUniverseID); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (r *FactRecorder) writeFact(ctx context.Context, id, sceneID string, delta *FactDelta, defaultUniverseID string) error {
	universeID := delta.UniverseID
	if universeID == "" {
		universeID = defaultUniverseID
	}

	props := map[string]interface{}{}
	if delta.Description != "" {
		props["description"] = delta.Description
	}
	if delta.When != "" {
		props["when"] = delta.When
	}
	if delta.TimeSpan != nil {
		props["time_span"] = sanitizeValue(delta.TimeSpan)
	}
	if delta.Confidence != nil {
		props["confidence"] = *delta.Confidence
	}
	if delta.DerivedFrom != nil {
		props["derived_from"] = sanitizeValue(delta.DerivedFrom)
	}

	node := &graph.Node{
		ID:         id,
		Label:      graph.LabelFact,
		Name:       delta.Description,
		UniverseID: universeID,
	}
	if len(props) > 0 {
		node.Props = props
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return fmt.Errorf("failed to upsert fact %s: %w", id, err)
	}

	occurs := &graph.Edge{SourceID: id, Relation: graph.RelOccursIn, TargetID: sceneID}
	if err := r.store.UpsertEdge(ctx, occurs); err != nil {
		return fmt.Errorf("failed to link fact %s to scene: %w", id, err)
	}

	if err := r.linkParticipants(ctx, id, delta.Participants); err != nil {
		return err
	}
	return r.linkEvidence(ctx, id, delta.Evidence)
}

// linkParticipants writes PARTICIPATES_AS edges for participants that exist,
// discriminated by role so one entity can hold several roles on a fact.
func (r *FactRecorder) linkParticipants(ctx context.Context, factID string, participants []Participant) error {
	if len(participants) == 0 {
		return nil
	}
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.EntityID != "" {
			ids = append(ids, p.EntityID)
		}
	}
	present, err := r.store.FilterExisting(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to probe fact participants: %w", err)
	}

	for _, p := range participants {
		if p.EntityID == "" || !present[p.EntityID] {
			continue
		}
		edge := &graph.Edge{
			SourceID:      p.EntityID,
			Relation:      graph.RelParticipatesAs,
			TargetID:      factID,
			Discriminator: p.Role,
		}
		if p.Role != "" {
			edge.Props = map[string]interface{}{"role": p.Role}
		}
		if err := r.store.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("failed to link participant %s to fact: %w", p.EntityID, err)
		}
	}
	return nil
}

// linkEvidence promotes evidence references to Source nodes and links the
// fact to them. References are deduplicated by resolved source ID.
func (r *FactRecorder) linkEvidence(ctx context.Context, factID string, evidence []EvidenceRef) error {
	seen := map[string]bool{}
	for _, ref := range evidence {
		sourceID := ref.ID
		if sourceID == "" && ref.DocID != "" {
			sourceID = "source:" + ref.DocID
		}
		if sourceID == "" || seen[sourceID] {
			continue
		}
		seen[sourceID] = true

		props := map[string]interface{}{}
		if ref.DocID != "" {
			props["doc_id"] = ref.DocID
		}
		if ref.Kind != "" {
			props["kind"] = ref.Kind
		}
		if ref.StorageKey != "" {
			props["storage_key"] = ref.StorageKey
		}
		if len(ref.Metadata) > 0 {
			props["metadata"] = sanitizeValue(ref.Metadata)
		}

		node := &graph.Node{ID: sourceID, Label: graph.LabelSource, Name: ref.Title}
		if len(props) > 0 {
			node.Props = props
		}
		if err := r.store.UpsertNode(ctx, node); err != nil {
			return fmt.Errorf("failed to upsert source %s: %w", sourceID, err)
		}

		edge := &graph.Edge{SourceID: factID, Relation: graph.RelSupportedBy, TargetID: sourceID}
		if err := r.store.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("failed to link fact %s to source: %w", factID, err)
		}
	}
	return nil
}
