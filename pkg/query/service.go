// Package query is the read facade over the story-world graph: a fixed
// allow-list of named reads, each backed by one SQL template, with an
// optional best-effort read-through cache.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dan-solli/fabula/pkg/cache"
	"github.com/dan-solli/fabula/pkg/graph"
)

// Service executes the allow-listed reads. Every listed method's template is
// resolved at construction time so a missing template fails fast, not on
// first use.
// CacheObserver receives the hit/miss outcome of every dispatched read that
// consulted the cache.
type CacheObserver interface {
	RecordCacheAccess(ctx context.Context, hit bool)
}

type Service struct {
	store     graph.Store
	templates *graph.TemplateSource
	cache     cache.ReadCache
	observer  CacheObserver
	handlers  map[string]handlerFunc
	logger    *slog.Logger
}

// NewService creates the query service and verifies that every implemented
// method has a template.
func NewService(store graph.Store, templates *graph.TemplateSource) (*Service, error) {
	s := &Service{
		store:     store,
		templates: templates,
		cache:     cache.Noop{},
	}
	s.handlers = buildHandlers(s)
	for method := range s.handlers {
		if _, err := templates.Lookup(method); err != nil {
			return nil, fmt.Errorf("query method %s: %w", method, err)
		}
	}
	return s, nil
}

// WithCache sets the read-through cache.
func (s *Service) WithCache(c cache.ReadCache) *Service {
	if c != nil {
		s.cache = c
	}
	return s
}

// WithCacheObserver sets the observer notified of cache hits and misses.
func (s *Service) WithCacheObserver(o CacheObserver) *Service {
	if o != nil {
		s.observer = o
	}
	return s
}

// WithLogger sets an optional structured logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// rows runs the named template with the given bind parameters.
func (s *Service) rows(ctx context.Context, name string, params map[string]interface{}) ([]graph.Row, error) {
	text, err := s.templates.Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Rows(ctx, text, params)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", name, err)
	}
	return out, nil
}

// single runs the named template and returns the first row, or nil when the
// result is empty. Not-found is not an error.
func (s *Service) single(ctx context.Context, name string, params map[string]interface{}) (graph.Row, error) {
	out, err := s.rows(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// boolean runs the named template and interprets the first column of the
// first row as a truth value.
func (s *Service) boolean(ctx context.Context, name string, params map[string]interface{}) (bool, error) {
	row, err := s.single(ctx, name, params)
	if err != nil || row == nil {
		return false, err
	}
	for _, v := range row {
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case float64:
			return t != 0, nil
		}
	}
	return false, nil
}

// EntitiesInScene lists the entities appearing in a scene.
func (s *Service) EntitiesInScene(ctx context.Context, sceneID string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_scene", map[string]interface{}{"sid": sceneID})
}

// EntitiesInStory lists the entities appearing in any scene of a story.
func (s *Service) EntitiesInStory(ctx context.Context, storyID string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_story", map[string]interface{}{"sid": storyID})
}

// EntitiesInUniverse lists the entities appearing anywhere in a universe's
// stories.
func (s *Service) EntitiesInUniverse(ctx context.Context, universeID string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_universe", map[string]interface{}{"uid": universeID})
}

// EntitiesInArc lists the entities appearing anywhere in an arc's stories.
func (s *Service) EntitiesInArc(ctx context.Context, arcID string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_arc", map[string]interface{}{"aid": arcID})
}

// EntitiesInStoryByRole lists the entities holding a given fact role in a
// story.
func (s *Service) EntitiesInStoryByRole(ctx context.Context, storyID, role string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_story_by_role", map[string]interface{}{"sid": storyID, "role": role})
}

// EntitiesInArcByRole lists the entities holding a given fact role in an arc.
func (s *Service) EntitiesInArcByRole(ctx context.Context, arcID, role string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_arc_by_role", map[string]interface{}{"aid": arcID, "role": role})
}

// EntitiesInUniverseByRole lists the entities holding a given fact role in a
// universe.
func (s *Service) EntitiesInUniverseByRole(ctx context.Context, universeID, role string) ([]graph.Row, error) {
	return s.rows(ctx, "entities_in_universe_by_role", map[string]interface{}{"uid": universeID, "role": role})
}

// EntityByNameInUniverse finds one entity by case-insensitive name within a
// universe. Returns nil when absent; ties break on oldest node.
func (s *Service) EntityByNameInUniverse(ctx context.Context, universeID, name string) (graph.Row, error) {
	return s.single(ctx, "entity_by_name_in_universe", map[string]interface{}{"uid": universeID, "name": name})
}

// ScenesForEntity lists the scenes an entity appears in, ordered by story
// and sequence.
func (s *Service) ScenesForEntity(ctx context.Context, entityID string) ([]graph.Row, error) {
	return s.rows(ctx, "scenes_for_entity", map[string]interface{}{"eid": entityID})
}

// ParticipantsByRoleForScene groups a scene's fact participants by role.
func (s *Service) ParticipantsByRoleForScene(ctx context.Context, sceneID string) ([]graph.Row, error) {
	return s.rows(ctx, "participants_by_role_for_scene", map[string]interface{}{"sid": sceneID})
}

// ParticipantsByRoleForStory groups a story's fact participants by role.
func (s *Service) ParticipantsByRoleForStory(ctx context.Context, storyID string) ([]graph.Row, error) {
	return s.rows(ctx, "participants_by_role_for_story", map[string]interface{}{"sid": storyID})
}

// NextSceneForEntityInStory returns the entity's next appearance after the
// given sequence index, or nil.
func (s *Service) NextSceneForEntityInStory(ctx context.Context, entityID, storyID string, afterIndex int64) (graph.Row, error) {
	return s.single(ctx, "next_scene_for_entity_in_story", map[string]interface{}{
		"eid": entityID, "sid": storyID, "idx": afterIndex,
	})
}

// PreviousSceneForEntityInStory returns the entity's previous appearance
// before the given sequence index, or nil.
func (s *Service) PreviousSceneForEntityInStory(ctx context.Context, entityID, storyID string, beforeIndex int64) (graph.Row, error) {
	return s.single(ctx, "previous_scene_for_entity_in_story", map[string]interface{}{
		"eid": entityID, "sid": storyID, "idx": beforeIndex,
	})
}

// StoriesInUniverse lists a universe's stories in sequence order.
func (s *Service) StoriesInUniverse(ctx context.Context, universeID string) ([]graph.Row, error) {
	return s.rows(ctx, "stories_in_universe", map[string]interface{}{"uid": universeID})
}

// ScenesInStory lists a story's scenes in sequence order.
func (s *Service) ScenesInStory(ctx context.Context, storyID string) ([]graph.Row, error) {
	return s.rows(ctx, "scenes_in_story", map[string]interface{}{"sid": storyID})
}

// FactsForScene lists the facts occurring in a scene with their
// participants.
func (s *Service) FactsForScene(ctx context.Context, sceneID string) ([]graph.Row, error) {
	rows, err := s.rows(ctx, "facts_for_scene", map[string]interface{}{"sid": sceneID})
	if err != nil {
		return nil, err
	}
	return decodeParticipants(rows), nil
}

// FactsForStory lists the facts occurring in any scene of a story with
// their participants.
func (s *Service) FactsForStory(ctx context.Context, storyID string) ([]graph.Row, error) {
	rows, err := s.rows(ctx, "facts_for_story", map[string]interface{}{"sid": storyID})
	if err != nil {
		return nil, err
	}
	return decodeParticipants(rows), nil
}

// RelationStateHistory lists all relation states between two entities in
// start order, with their scene provenance.
func (s *Service) RelationStateHistory(ctx context.Context, entityA, entityB string) ([]graph.Row, error) {
	return s.rows(ctx, "relation_state_history", map[string]interface{}{"a": entityA, "b": entityB})
}

// RelationsEffectiveInScene lists the relation states active at a scene:
// set or changed there, or set earlier in the same story and not yet ended.
func (s *Service) RelationsEffectiveInScene(ctx context.Context, sceneID string) ([]graph.Row, error) {
	return s.rows(ctx, "relations_effective_in_scene", map[string]interface{}{"sid": sceneID})
}

// RelationIsActiveInScene reports whether any relation state between the two
// entities is active at the scene.
func (s *Service) RelationIsActiveInScene(ctx context.Context, entityA, entityB, sceneID string) (bool, error) {
	return s.boolean(ctx, "relation_is_active_in_scene", map[string]interface{}{
		"a": entityA, "b": entityB, "sid": sceneID,
	})
}

// RelationIsActive reports whether a relation of the given type between the
// two entities is currently open: no ended_at and no ending scene.
func (s *Service) RelationIsActive(ctx context.Context, relType, entityA, entityB string) (bool, error) {
	return s.boolean(ctx, "relation_is_active", map[string]interface{}{
		"rtype": relType, "a": entityA, "b": entityB,
	})
}

// ListMultiverses lists all multiverses.
func (s *Service) ListMultiverses(ctx context.Context) ([]graph.Row, error) {
	return s.rows(ctx, "list_multiverses", nil)
}

// ListUniverses lists all universes.
func (s *Service) ListUniverses(ctx context.Context) ([]graph.Row, error) {
	return s.rows(ctx, "list_universes", nil)
}

// ListUniversesForMultiverse lists the universes under a multiverse.
func (s *Service) ListUniversesForMultiverse(ctx context.Context, multiverseID string) ([]graph.Row, error) {
	return s.rows(ctx, "list_universes_for_multiverse", map[string]interface{}{"mid": multiverseID})
}

// SystemUsageSummary counts per-system usage across a universe, its stories
// and its entities.
func (s *Service) SystemUsageSummary(ctx context.Context, universeID string) ([]graph.Row, error) {
	return s.rows(ctx, "system_usage_summary", map[string]interface{}{"uid": universeID})
}

// EffectiveSystemForUniverse resolves the system governing a universe:
// its own, else its multiverse's. Returns nil when none applies.
func (s *Service) EffectiveSystemForUniverse(ctx context.Context, universeID string) (graph.Row, error) {
	return s.single(ctx, "effective_system_for_universe", map[string]interface{}{"uid": universeID})
}

// EffectiveSystemForStory resolves the system governing a story, walking up
// story, universe, multiverse.
func (s *Service) EffectiveSystemForStory(ctx context.Context, storyID string) (graph.Row, error) {
	return s.single(ctx, "effective_system_for_story", map[string]interface{}{"sid": storyID})
}

// EffectiveSystemForScene resolves the system governing a scene via its
// story's chain.
func (s *Service) EffectiveSystemForScene(ctx context.Context, sceneID string) (graph.Row, error) {
	return s.single(ctx, "effective_system_for_scene", map[string]interface{}{"sid": sceneID})
}

// EffectiveSystemForEntity resolves the system governing an entity, walking
// up entity, universe, multiverse.
func (s *Service) EffectiveSystemForEntity(ctx context.Context, entityID string) (graph.Row, error) {
	return s.single(ctx, "effective_system_for_entity", map[string]interface{}{"eid": entityID})
}

// EffectiveSystemForEntityInStory resolves the system governing an entity
// within a story, with the story taking precedence over the universe chain.
func (s *Service) EffectiveSystemForEntityInStory(ctx context.Context, entityID, storyID string) (graph.Row, error) {
	return s.single(ctx, "effective_system_for_entity_in_story", map[string]interface{}{"eid": entityID, "sid": storyID})
}

// AxiomsApplyingToUniverse lists the axioms declared for a universe.
func (s *Service) AxiomsApplyingToUniverse(ctx context.Context, universeID string) ([]graph.Row, error) {
	return s.rows(ctx, "axioms_applying_to_universe", map[string]interface{}{"uid": universeID})
}

// AxiomsEffectiveInScene lists the axioms that apply at a scene through its
// story's universe.
func (s *Service) AxiomsEffectiveInScene(ctx context.Context, sceneID string) ([]graph.Row, error) {
	return s.rows(ctx, "axioms_effective_in_scene", map[string]interface{}{"sid": sceneID})
}

// decodeParticipants expands the JSON-encoded participants column produced
// by the fact templates into structured rows.
func decodeParticipants(rows []graph.Row) []graph.Row {
	for _, row := range rows {
		raw, ok := row["participants"].(string)
		if !ok || raw == "" {
			continue
		}
		var participants []map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &participants); err != nil {
			continue
		}
		row["participants"] = participants
	}
	return rows
}
