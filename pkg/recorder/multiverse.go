package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// MultiverseRecorder handles multiverse and universe creation and linking.
type MultiverseRecorder struct {
	store graph.Store
}

// CreateMultiverse upserts a multiverse and links it under its omniverse
// when that parent already exists. A dangling omniverse reference is
// silently skipped: a node is never created from a back-reference.
func (r *MultiverseRecorder) CreateMultiverse(ctx context.Context, delta *MultiverseDelta) (string, error) {
	id := EnsureID("multiverse", delta.ID)

	node := &graph.Node{
		ID:    id,
		Label: graph.LabelMultiverse,
		Name:  delta.Name,
	}
	if delta.Description != "" {
		node.Props = map[string]interface{}{"description": delta.Description}
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return "", fmt.Errorf("failed to upsert multiverse: %w", err)
	}

	if err := r.linkIfParentExists(ctx, delta.OmniverseID, graph.RelHas, id); err != nil {
		return "", err
	}

	return id, nil
}

// CreateUniverse upserts a universe and links it under its multiverse when
// that parent already exists.
func (r *MultiverseRecorder) CreateUniverse(ctx context.Context, delta *UniverseDelta) (string, error) {
	id := EnsureID("universe", delta.ID)

	node := &graph.Node{
		ID:    id,
		Label: graph.LabelUniverse,
		Name:  delta.Name,
	}
	if delta.Description != "" {
		node.Props = map[string]interface{}{"description": delta.Description}
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return "", fmt.Errorf("failed to upsert universe: %w", err)
	}

	if err := r.linkIfParentExists(ctx, delta.MultiverseID, graph.RelHasUniverse, id); err != nil {
		return "", err
	}

	return id, nil
}

func (r *MultiverseRecorder) linkIfParentExists(ctx context.Context, parentID, relation, childID string) error {
	if parentID == "" {
		return nil
	}
	exists, err := r.store.NodeExists(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to probe parent %s: %w", parentID, err)
	}
	if !exists {
		return nil
	}
	edge := &graph.Edge{SourceID: parentID, Relation: relation, TargetID: childID}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", childID, parentID, err)
	}
	return nil
}
