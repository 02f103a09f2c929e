// Package rules runs stateless policy checks against the query facade.
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dan-solli/fabula/pkg/query"
)

// Result values for an evaluation.
const (
	ResultOK         = "ok"
	ResultViolations = "violations"
)

// Result is the outcome of one rule evaluation. Violations explain every
// failed check; Trace records the reads consulted.
type Result struct {
	Result     string   `json:"result"`
	Violations []string `json:"violations,omitempty"`
	Trace      []string `json:"trace,omitempty"`
}

// Evaluator checks policy actions against the graph. Evaluation never
// returns an error: unknown actions, missing arguments and failed reads all
// degrade to violations so a caller can always act on the result.
type Evaluator struct {
	query  *query.Service
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over the query facade.
func NewEvaluator(q *query.Service) *Evaluator {
	return &Evaluator{query: q}
}

// WithLogger sets an optional structured logger.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// Evaluate runs one policy action. Supported actions:
//
//	forbid_relation(type, entity_a, entity_b)
//	require_role_in_scene(role, scene_id)
//	max_participants(scene_id, limit)
func (e *Evaluator) Evaluate(ctx context.Context, action string, args map[string]interface{}) *Result {
	res := &Result{Result: ResultOK}
	switch action {
	case "forbid_relation":
		e.forbidRelation(ctx, args, res)
	case "require_role_in_scene":
		e.requireRoleInScene(ctx, args, res)
	case "max_participants":
		e.maxParticipants(ctx, args, res)
	default:
		res.Violations = append(res.Violations, fmt.Sprintf("unknown action: %s", action))
	}
	if len(res.Violations) > 0 {
		res.Result = ResultViolations
	}
	return res
}

// forbidRelation flags an active typed relation between the pair. A failed
// read counts as inactive.
func (e *Evaluator) forbidRelation(ctx context.Context, args map[string]interface{}, res *Result) {
	relType, _ := args["type"].(string)
	a, _ := args["entity_a"].(string)
	b, _ := args["entity_b"].(string)
	if relType == "" || a == "" || b == "" {
		res.Violations = append(res.Violations, "forbid_relation requires type, entity_a and entity_b")
		return
	}
	res.Trace = append(res.Trace, fmt.Sprintf("relation_is_active(%s, %s, %s)", relType, a, b))
	active, err := e.query.RelationIsActive(ctx, relType, a, b)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("rule read failed", "action", "forbid_relation", "error", err)
		}
		return
	}
	if active {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"relation %s between %s and %s is active but forbidden", relType, a, b))
	}
}

// requireRoleInScene flags a scene where no participant holds the role. A
// failed read counts as no participants, hence a violation.
func (e *Evaluator) requireRoleInScene(ctx context.Context, args map[string]interface{}, res *Result) {
	role, _ := args["role"].(string)
	sceneID, _ := args["scene_id"].(string)
	if role == "" || sceneID == "" {
		res.Violations = append(res.Violations, "require_role_in_scene requires role and scene_id")
		return
	}
	res.Trace = append(res.Trace, fmt.Sprintf("participants_by_role_for_scene(%s)", sceneID))
	rows, err := e.query.ParticipantsByRoleForScene(ctx, sceneID)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("rule read failed", "action", "require_role_in_scene", "error", err)
		}
		rows = nil
	}
	for _, row := range rows {
		if r, _ := row["role"].(string); r == role {
			return
		}
	}
	res.Violations = append(res.Violations, fmt.Sprintf(
		"no participant holds role %s in scene %s", role, sceneID))
}

// maxParticipants flags a scene whose participant count exceeds the limit.
// A failed read counts as zero participants.
func (e *Evaluator) maxParticipants(ctx context.Context, args map[string]interface{}, res *Result) {
	sceneID, _ := args["scene_id"].(string)
	limit, ok := intValue(args["limit"])
	if sceneID == "" || !ok {
		res.Violations = append(res.Violations, "max_participants requires scene_id and limit")
		return
	}
	res.Trace = append(res.Trace, fmt.Sprintf("entities_in_scene(%s)", sceneID))
	rows, err := e.query.EntitiesInScene(ctx, sceneID)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("rule read failed", "action", "max_participants", "error", err)
		}
		return
	}
	if int64(len(rows)) > limit {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"scene %s has %d participants > %d", sceneID, len(rows), limit))
	}
}

func intValue(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	}
	return 0, false
}
