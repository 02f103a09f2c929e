package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// StoryRecorder handles story and arc creation and linking.
type StoryRecorder struct {
	store graph.Store
}

// CreateArc upserts an arc and links it under its universe when that parent
// exists. A resolvable universe (own or batch default) is required.
func (r *StoryRecorder) CreateArc(ctx context.Context, delta *ArcDelta, defaultUniverseID string) (string, error) {
	universeID := delta.UniverseID
	if universeID == "" {
		universeID = defaultUniverseID
	}
	if universeID == "" {
		return "", fmt.Errorf("%w: universe_id is required to create arcs", ErrValidation)
	}

	id := EnsureID("arc", delta.ID)
	props := map[string]interface{}{}
	if len(delta.Tags) > 0 {
		props["tags"] = sanitizeValue(delta.Tags)
	}
	if delta.OrderingMode != "" {
		props["ordering_mode"] = delta.OrderingMode
	}

	node := &graph.Node{
		ID:         id,
		Label:      graph.LabelArc,
		Name:       delta.Title,
		UniverseID: universeID,
	}
	if len(props) > 0 {
		node.Props = props
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return "", fmt.Errorf("failed to upsert arc: %w", err)
	}

	if err := r.linkFromExisting(ctx, universeID, graph.RelHasArc, id, nil); err != nil {
		return "", err
	}

	return id, nil
}

// CreateStory upserts a story and links it under its universe (and arc, when
// given). The ordering link carries the caller's sequence index, or the next
// free index in the universe when omitted; an index already present on the
// link is preserved so re-submission stays idempotent.
func (r *StoryRecorder) CreateStory(ctx context.Context, delta *StoryDelta, defaultUniverseID string) (string, error) {
	universeID := delta.UniverseID
	if universeID == "" {
		universeID = defaultUniverseID
	}
	if universeID == "" {
		return "", fmt.Errorf("%w: universe_id is required to create stories", ErrValidation)
	}

	id := EnsureID("story", delta.ID)
	props := map[string]interface{}{}
	if delta.Summary != "" {
		props["summary"] = delta.Summary
	}
	if delta.ArcID != "" {
		props["arc_id"] = delta.ArcID
	}

	node := &graph.Node{
		ID:         id,
		Label:      graph.LabelStory,
		Name:       delta.Title,
		UniverseID: universeID,
	}
	if len(props) > 0 {
		node.Props = props
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return "", fmt.Errorf("failed to upsert story: %w", err)
	}

	seq, err := r.resolveSeq(ctx, universeID, id, delta.SequenceIndex)
	if err != nil {
		return "", err
	}

	if err := r.linkFromExisting(ctx, universeID, graph.RelHasStory, id, seq); err != nil {
		return "", err
	}
	if delta.ArcID != "" {
		if err := r.linkFromExisting(ctx, delta.ArcID, graph.RelHasStory, id, delta.SequenceIndex); err != nil {
			return "", err
		}
	}

	return id, nil
}

// resolveSeq returns the sequence index to set on the universe ordering
// link: the caller's value when given, nothing when the link already carries
// one, otherwise max(existing)+1 within the universe (0 when none exist).
func (r *StoryRecorder) resolveSeq(ctx context.Context, universeID, storyID string, explicit *int64) (*int64, error) {
	if explicit != nil {
		return explicit, nil
	}
	existing, err := r.store.GetEdge(ctx, universeID, graph.RelHasStory, storyID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ordering link: %w", err)
	}
	if existing != nil && existing.Seq != nil {
		return nil, nil
	}
	next, err := r.store.NextSeq(ctx, universeID, graph.RelHasStory)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sequence index: %w", err)
	}
	return &next, nil
}

func (r *StoryRecorder) linkFromExisting(ctx context.Context, parentID, relation, childID string, seq *int64) error {
	exists, err := r.store.NodeExists(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to probe parent %s: %w", parentID, err)
	}
	if !exists {
		return nil
	}
	edge := &graph.Edge{SourceID: parentID, Relation: relation, TargetID: childID, Seq: seq}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", childID, parentID, err)
	}
	return nil
}
