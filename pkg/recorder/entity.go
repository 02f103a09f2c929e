package recorder

import (
	"context"
	"fmt"

	"github.com/dan-solli/fabula/pkg/graph"
)

// EntityRecorder handles entity creation and linking.
type EntityRecorder struct {
	store graph.Store
}

// CreateEntities upserts entities and links each under its universe when
// that node exists. Every entity must resolve a universe (own or batch
// default); a batch with any unresolvable entity writes nothing for the
// family.
func (r *EntityRecorder) CreateEntities(ctx context.Context, deltas []EntityDelta, defaultUniverseID string) (int, error) {
	type row struct {
		id         string
		name       string
		typ        string
		universeID string
		attributes map[string]interface{}
	}

	rows := make([]row, 0, len(deltas))
	for _, d := range deltas {
		universeID := d.UniverseID
		if universeID == "" {
			universeID = defaultUniverseID
		}
		if universeID == "" {
			name := d.ID
			if name == "" {
				name = d.Name
			}
			return 0, fmt.Errorf("%w: universe_id is required to create entity %q", ErrValidation, name)
		}
		rows = append(rows, row{
			id:         EnsureID("entity", d.ID),
			name:       d.Name,
			typ:        d.Type,
			universeID: universeID,
			attributes: sanitizeMap(d.Attributes),
		})
	}

	for _, row := range rows {
		node := &graph.Node{
			ID:         row.id,
			Label:      graph.LabelEntity,
			Name:       row.name,
			Type:       row.typ,
			UniverseID: row.universeID,
		}
		if len(row.attributes) > 0 {
			node.Props = map[string]interface{}{"attributes": row.attributes}
		}
		if err := r.store.UpsertNode(ctx, node); err != nil {
			return 0, fmt.Errorf("failed to upsert entity %s: %w", row.id, err)
		}

		exists, err := r.store.NodeExists(ctx, row.universeID)
		if err != nil {
			return 0, fmt.Errorf("failed to probe universe %s: %w", row.universeID, err)
		}
		if exists {
			edge := &graph.Edge{SourceID: row.id, Relation: graph.RelBelongsTo, TargetID: row.universeID}
			if err := r.store.UpsertEdge(ctx, edge); err != nil {
				return 0, fmt.Errorf("failed to link entity %s to universe: %w", row.id, err)
			}
		}
	}

	return len(rows), nil
}
