package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// SceneRecorder handles scene creation, story linking and participant
// appearances.
type SceneRecorder struct {
	store graph.Store
}

// CreateScene upserts a scene, links it under its story when that node
// exists, and records APPEARS_IN edges for participants that already exist.
// Missing participants are skipped with a warning; they are never created
// from a scene reference. Returns the scene ID, the number of appearance
// links written, and any warnings.
func (r *SceneRecorder) CreateScene(ctx context.Context, delta *SceneDelta, defaultUniverseID string) (string, int, []string, error) {
	id := EnsureID("scene", delta.ID)

	props := map[string]interface{}{}
	if delta.StoryID != "" {
		props["story_id"] = delta.StoryID
	}
	if delta.SequenceIndex != nil {
		props["sequence_index"] = *delta.SequenceIndex
	}
	if delta.When != "" {
		props["when"] = delta.When
	}
	if delta.TimeSpan != nil {
		props["time_span"] = sanitizeValue(delta.TimeSpan)
	}
	if delta.RecordedAt != "" {
		props["recorded_at"] = delta.RecordedAt
	}
	if delta.Location != "" {
		props["location"] = delta.Location
	}

	node := &graph.Node{
		ID:         id,
		Label:      graph.LabelScene,
		UniverseID: defaultUniverseID,
	}
	if len(props) > 0 {
		node.Props = props
	}
	if err := r.store.UpsertNode(ctx, node); err != nil {
		return "", 0, nil, fmt.Errorf("failed to upsert scene: %w", err)
	}

	if delta.StoryID != "" {
		exists, err := r.store.NodeExists(ctx, delta.StoryID)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to probe story %s: %w", delta.StoryID, err)
		}
		if exists {
			edge := &graph.Edge{
				SourceID: delta.StoryID,
				Relation: graph.RelHasScene,
				TargetID: id,
				Seq:      delta.SequenceIndex,
			}
			if err := r.store.UpsertEdge(ctx, edge); err != nil {
				return "", 0, nil, fmt.Errorf("failed to link scene to story: %w", err)
			}
		}
	}

	appeared, warnings, err := r.linkParticipants(ctx, id, delta.Participants)
	if err != nil {
		return "", 0, nil, err
	}

	return id, appeared, warnings, nil
}

// linkParticipants writes APPEARS_IN edges for the participants that exist.
// When the existence probe itself fails, all participants are linked and no
// warning is emitted; writes to dangling IDs are harmless edges.
func (r *SceneRecorder) linkParticipants(ctx context.Context, sceneID string, participants []string) (int, []string, error) {
	if len(participants) == 0 {
		return 0, nil, nil
	}

	present, err := r.store.FilterExisting(ctx, participants)
	tolerant := err != nil

	written := 0
	var missing []string
	for _, entityID := range participants {
		if entityID == "" {
			continue
		}
		if !tolerant && !present[entityID] {
			missing = append(missing, entityID)
			continue
		}
		edge := &graph.Edge{SourceID: entityID, Relation: graph.RelAppearsIn, TargetID: sceneID}
		if err := r.store.UpsertEdge(ctx, edge); err != nil {
			return 0, nil, fmt.Errorf("failed to link participant %s: %w", entityID, err)
		}
		written++
	}

	var warnings []string
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("appears_in skipped for missing entities: %v", missing))
	}
	return written, warnings, nil
}
