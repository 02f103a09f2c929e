package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/dan-solli/fabula/pkg/graph"
	"github.com/dan-solli/fabula/pkg/query"
	"github.com/dan-solli/fabula/pkg/recorder"
)

// setupEvaluator seeds a scene with two participants, a fact binding a role,
// and one active relation state.
func setupEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	store, err := graph.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	rec := recorder.NewService(store)

	seed := rec.Commit(ctx, &recorder.DeltaBatch{
		NewUniverse: &recorder.UniverseDelta{ID: "u1", Name: "Aerth"},
	})
	if !seed.OK {
		t.Fatalf("seed failed: %v", seed.Errors)
	}
	seed = rec.Commit(ctx, &recorder.DeltaBatch{
		UniverseID: "u1",
		NewEntities: []recorder.EntityDelta{
			{ID: "e1", Name: "Rogue"},
			{ID: "e2", Name: "Bard"},
		},
	})
	if !seed.OK {
		t.Fatalf("seed failed: %v", seed.Errors)
	}
	seed = rec.Commit(ctx, &recorder.DeltaBatch{
		UniverseID: "u1",
		NewScene: &recorder.SceneDelta{
			ID: "sc1", Participants: []string{"e1", "e2"},
		},
		Facts: []recorder.FactDelta{{
			ID:           "f1",
			Description:  "Rogue leads the heist",
			Participants: []recorder.Participant{{EntityID: "e1", Role: "leader"}},
		}},
		RelationStates: []recorder.RelationStateDelta{
			{ID: "rs1", Type: "enemy_of", EntityA: "e1", EntityB: "e2"},
		},
	})
	if !seed.OK {
		t.Fatalf("seed failed: %v", seed.Errors)
	}

	svc, err := query.NewService(store, graph.NewTemplateSource())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return NewEvaluator(svc)
}

func TestEvaluate_ForbidRelation(t *testing.T) {
	e := setupEvaluator(t)
	ctx := context.Background()

	res := e.Evaluate(ctx, "forbid_relation", map[string]interface{}{
		"type": "enemy_of", "entity_a": "e1", "entity_b": "e2",
	})
	if res.Result != ResultViolations {
		t.Fatalf("expected violations, got %+v", res)
	}
	if len(res.Violations) != 1 || !strings.Contains(res.Violations[0], "enemy_of") {
		t.Errorf("unexpected violations: %v", res.Violations)
	}
	if len(res.Trace) == 0 {
		t.Error("expected a trace entry")
	}

	res = e.Evaluate(ctx, "forbid_relation", map[string]interface{}{
		"type": "ally_of", "entity_a": "e1", "entity_b": "e2",
	})
	if res.Result != ResultOK {
		t.Errorf("inactive relation must pass, got %+v", res)
	}
}

func TestEvaluate_RequireRoleInScene(t *testing.T) {
	e := setupEvaluator(t)
	ctx := context.Background()

	res := e.Evaluate(ctx, "require_role_in_scene", map[string]interface{}{
		"role": "leader", "scene_id": "sc1",
	})
	if res.Result != ResultOK {
		t.Errorf("present role must pass, got %+v", res)
	}

	res = e.Evaluate(ctx, "require_role_in_scene", map[string]interface{}{
		"role": "healer", "scene_id": "sc1",
	})
	if res.Result != ResultViolations {
		t.Fatalf("expected violations, got %+v", res)
	}
	if !strings.Contains(res.Violations[0], "healer") || !strings.Contains(res.Violations[0], "sc1") {
		t.Errorf("violation must name role and scene: %v", res.Violations)
	}
}

func TestEvaluate_MaxParticipants(t *testing.T) {
	e := setupEvaluator(t)
	ctx := context.Background()

	res := e.Evaluate(ctx, "max_participants", map[string]interface{}{
		"scene_id": "sc1", "limit": 1,
	})
	if res.Result != ResultViolations {
		t.Fatalf("expected violations, got %+v", res)
	}
	if !strings.Contains(res.Violations[0], "2 participants > 1") {
		t.Errorf("violation must state the counts: %v", res.Violations)
	}

	res = e.Evaluate(ctx, "max_participants", map[string]interface{}{
		"scene_id": "sc1", "limit": 2,
	})
	if res.Result != ResultOK {
		t.Errorf("count at limit must pass, got %+v", res)
	}

	// JSON-decoded args arrive as float64.
	res = e.Evaluate(ctx, "max_participants", map[string]interface{}{
		"scene_id": "sc1", "limit": float64(1),
	})
	if res.Result != ResultViolations {
		t.Errorf("float limit must be accepted, got %+v", res)
	}
}

func TestEvaluate_MissingArguments(t *testing.T) {
	e := setupEvaluator(t)
	ctx := context.Background()

	for _, action := range []string{"forbid_relation", "require_role_in_scene", "max_participants"} {
		res := e.Evaluate(ctx, action, nil)
		if res.Result != ResultViolations {
			t.Errorf("%s without args must report violations, got %+v", action, res)
		}
	}
}

func TestEvaluate_UnknownAction(t *testing.T) {
	e := setupEvaluator(t)

	res := e.Evaluate(context.Background(), "summon_dragon", nil)
	if res.Result != ResultViolations {
		t.Fatalf("expected violations, got %+v", res)
	}
	if !strings.Contains(res.Violations[0], "unknown action: summon_dragon") {
		t.Errorf("unexpected violation: %v", res.Violations)
	}
}
