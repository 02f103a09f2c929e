package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/dan-solli/fabula/pkg/cache"
)

// ErrUnsupportedQuery indicates a method outside the allow-list.
var ErrUnsupportedQuery = errors.New("query method not allowed")

// ErrQueryNotImplemented indicates an allow-listed method with no handler.
var ErrQueryNotImplemented = errors.New("query method not implemented")

// ErrMissingArgument indicates a required argument was absent or empty.
var ErrMissingArgument = errors.New("missing argument")

type handlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// allowedMethods is the fixed allow-list of dispatchable reads. Every entry
// here either has a handler or fails with ErrQueryNotImplemented.
var allowedMethods = map[string]bool{
	"entities_in_scene":                    true,
	"entities_in_story":                    true,
	"entities_in_universe":                 true,
	"entities_in_arc":                      true,
	"entities_in_story_by_role":            true,
	"entities_in_arc_by_role":              true,
	"entities_in_universe_by_role":         true,
	"entity_by_name_in_universe":           true,
	"scenes_for_entity":                    true,
	"participants_by_role_for_scene":       true,
	"participants_by_role_for_story":       true,
	"next_scene_for_entity_in_story":       true,
	"previous_scene_for_entity_in_story":   true,
	"stories_in_universe":                  true,
	"scenes_in_story":                      true,
	"facts_for_scene":                      true,
	"facts_for_story":                      true,
	"relation_state_history":               true,
	"relations_effective_in_scene":         true,
	"relation_is_active_in_scene":          true,
	"relation_is_active":                   true,
	"list_multiverses":                     true,
	"list_universes":                       true,
	"list_universes_for_multiverse":        true,
	"system_usage_summary":                 true,
	"effective_system_for_universe":        true,
	"effective_system_for_story":           true,
	"effective_system_for_scene":           true,
	"effective_system_for_entity":          true,
	"effective_system_for_entity_in_story": true,
	"axioms_applying_to_universe":          true,
	"axioms_effective_in_scene":            true,
}

// Query dispatches one allow-listed read by name. Successful results go
// through the read cache; cache failures never affect the read itself.
func (s *Service) Query(ctx context.Context, method string, args map[string]interface{}) (interface{}, error) {
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, method)
	}
	handler, ok := s.handlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotImplemented, method)
	}

	key := cache.Key(method, args)
	if cached, hit := s.cache.Get(key); hit {
		if s.observer != nil {
			s.observer.RecordCacheAccess(ctx, true)
		}
		return cached, nil
	}
	if s.observer != nil {
		s.observer.RecordCacheAccess(ctx, false)
	}

	out, err := handler(ctx, args)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, out)
	return out, nil
}

func strArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	return v, nil
}

func intArg(args map[string]interface{}, name string) (int64, error) {
	switch v := args[name].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingArgument, name)
}

func buildHandlers(s *Service) map[string]handlerFunc {
	one := func(fn func(ctx context.Context, a string) (interface{}, error), name string) handlerFunc {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a, err := strArg(args, name)
			if err != nil {
				return nil, err
			}
			return fn(ctx, a)
		}
	}
	two := func(fn func(ctx context.Context, a, b string) (interface{}, error), nameA, nameB string) handlerFunc {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a, err := strArg(args, nameA)
			if err != nil {
				return nil, err
			}
			b, err := strArg(args, nameB)
			if err != nil {
				return nil, err
			}
			return fn(ctx, a, b)
		}
	}
	nav := func(fn func(ctx context.Context, eid, sid string, idx int64) (interface{}, error)) handlerFunc {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			eid, err := strArg(args, "entity_id")
			if err != nil {
				return nil, err
			}
			sid, err := strArg(args, "story_id")
			if err != nil {
				return nil, err
			}
			idx, err := intArg(args, "sequence_index")
			if err != nil {
				return nil, err
			}
			return fn(ctx, eid, sid, idx)
		}
	}

	return map[string]handlerFunc{
		"entities_in_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EntitiesInScene(ctx, a)
		}, "scene_id"),
		"entities_in_story": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EntitiesInStory(ctx, a)
		}, "story_id"),
		"entities_in_universe": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EntitiesInUniverse(ctx, a)
		}, "universe_id"),
		"entities_in_arc": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EntitiesInArc(ctx, a)
		}, "arc_id"),
		"entities_in_story_by_role": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.EntitiesInStoryByRole(ctx, a, b)
		}, "story_id", "role"),
		"entities_in_arc_by_role": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.EntitiesInArcByRole(ctx, a, b)
		}, "arc_id", "role"),
		"entities_in_universe_by_role": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.EntitiesInUniverseByRole(ctx, a, b)
		}, "universe_id", "role"),
		"entity_by_name_in_universe": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.EntityByNameInUniverse(ctx, a, b)
		}, "universe_id", "name"),
		"scenes_for_entity": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.ScenesForEntity(ctx, a)
		}, "entity_id"),
		"participants_by_role_for_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.ParticipantsByRoleForScene(ctx, a)
		}, "scene_id"),
		"participants_by_role_for_story": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.ParticipantsByRoleForStory(ctx, a)
		}, "story_id"),
		"next_scene_for_entity_in_story": nav(func(ctx context.Context, eid, sid string, idx int64) (interface{}, error) {
			return s.NextSceneForEntityInStory(ctx, eid, sid, idx)
		}),
		"previous_scene_for_entity_in_story": nav(func(ctx context.Context, eid, sid string, idx int64) (interface{}, error) {
			return s.PreviousSceneForEntityInStory(ctx, eid, sid, idx)
		}),
		"stories_in_universe": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.StoriesInUniverse(ctx, a)
		}, "universe_id"),
		"scenes_in_story": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.ScenesInStory(ctx, a)
		}, "story_id"),
		"facts_for_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.FactsForScene(ctx, a)
		}, "scene_id"),
		"facts_for_story": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.FactsForStory(ctx, a)
		}, "story_id"),
		"relation_state_history": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.RelationStateHistory(ctx, a, b)
		}, "entity_a", "entity_b"),
		"relations_effective_in_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.RelationsEffectiveInScene(ctx, a)
		}, "scene_id"),
		"relation_is_active_in_scene": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a, err := strArg(args, "entity_a")
			if err != nil {
				return nil, err
			}
			b, err := strArg(args, "entity_b")
			if err != nil {
				return nil, err
			}
			sid, err := strArg(args, "scene_id")
			if err != nil {
				return nil, err
			}
			return s.RelationIsActiveInScene(ctx, a, b, sid)
		},
		"relation_is_active": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			rtype, err := strArg(args, "rel_type")
			if err != nil {
				return nil, err
			}
			a, err := strArg(args, "entity_a")
			if err != nil {
				return nil, err
			}
			b, err := strArg(args, "entity_b")
			if err != nil {
				return nil, err
			}
			return s.RelationIsActive(ctx, rtype, a, b)
		},
		"list_multiverses": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.ListMultiverses(ctx)
		},
		"list_universes": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.ListUniverses(ctx)
		},
		"list_universes_for_multiverse": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.ListUniversesForMultiverse(ctx, a)
		}, "multiverse_id"),
		"system_usage_summary": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.SystemUsageSummary(ctx, a)
		}, "universe_id"),
		"effective_system_for_universe": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EffectiveSystemForUniverse(ctx, a)
		}, "universe_id"),
		"effective_system_for_story": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EffectiveSystemForStory(ctx, a)
		}, "story_id"),
		"effective_system_for_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EffectiveSystemForScene(ctx, a)
		}, "scene_id"),
		"effective_system_for_entity": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.EffectiveSystemForEntity(ctx, a)
		}, "entity_id"),
		"effective_system_for_entity_in_story": two(func(ctx context.Context, a, b string) (interface{}, error) {
			return s.EffectiveSystemForEntityInStory(ctx, a, b)
		}, "entity_id", "story_id"),
		"axioms_applying_to_universe": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.AxiomsApplyingToUniverse(ctx, a)
		}, "universe_id"),
		"axioms_effective_in_scene": one(func(ctx context.Context, a string) (interface{}, error) {
			return s.AxiomsEffectiveInScene(ctx, a)
		}, "scene_id"),
	}
}
