package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dan-solli/fabula/pkg/graph"
)

// Service orchestrates the family recorders over one store. Families are
// applied in dependency order so a batch can create a universe and
// immediately hang stories, entities and facts off it. There is no
// cross-family rollback: a failed family is reported in the result and the
// remaining families are still applied.
type Service struct {
	store      graph.Store
	multiverse *MultiverseRecorder
	story      *StoryRecorder
	entity     *EntityRecorder
	scene      *SceneRecorder
	fact       *FactRecorder
	relation   *RelationRecorder
	logger     *slog.Logger
}

// NewService creates a recorder service backed by the given store.
func NewService(store graph.Store) *Service {
	return &Service{
		store:      store,
		multiverse: &MultiverseRecorder{store: store},
		story:      &StoryRecorder{store: store},
		entity:     &EntityRecorder{store: store},
		scene:      &SceneRecorder{store: store},
		fact:       &FactRecorder{store: store},
		relation:   &RelationRecorder{store: store},
	}
}

// WithLogger sets an optional structured logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// Commit applies one delta batch in fixed family order:
// multiverse, universe, arc, story, entities, scene, facts,
// relation states, simple relations. A universe created in the batch becomes
// the default for later families when the batch carries none, and a scene
// created in the batch becomes the default provenance scene the same way.
func (s *Service) Commit(ctx context.Context, batch *DeltaBatch) *CommitResult {
	result := NewCommitResult()
	if batch == nil {
		return result
	}

	universeID := batch.UniverseID
	sceneID := batch.SceneID

	result.Warnings = append(result.Warnings, validateUniverseConsistency(batch, universeID)...)

	if batch.NewMultiverse != nil {
		if _, err := s.multiverse.CreateMultiverse(ctx, batch.NewMultiverse); err != nil {
			s.fail(result, FamilyMultiverses, err)
		} else {
			result.Written[FamilyMultiverses] = 1
		}
	}

	if batch.NewUniverse != nil {
		uid, err := s.multiverse.CreateUniverse(ctx, batch.NewUniverse)
		if err != nil {
			s.fail(result, FamilyUniverses, err)
		} else {
			result.Written[FamilyUniverses] = 1
			if universeID == "" {
				universeID = uid
			}
		}
	}

	if batch.NewArc != nil {
		if _, err := s.story.CreateArc(ctx, batch.NewArc, universeID); err != nil {
			s.fail(result, FamilyArcs, err)
		} else {
			result.Written[FamilyArcs] = 1
		}
	}

	if batch.NewStory != nil {
		if _, err := s.story.CreateStory(ctx, batch.NewStory, universeID); err != nil {
			s.fail(result, FamilyStories, err)
		} else {
			result.Written[FamilyStories] = 1
		}
	}

	if len(batch.NewEntities) > 0 {
		count, err := s.entity.CreateEntities(ctx, batch.NewEntities, universeID)
		if err != nil {
			s.fail(result, FamilyEntities, err)
		} else {
			result.Written[FamilyEntities] = count
		}
	}

	if batch.NewScene != nil {
		scID, appeared, warnings, err := s.scene.CreateScene(ctx, batch.NewScene, universeID)
		if err != nil {
			s.fail(result, FamilyScenes, err)
		} else {
			result.Written[FamilyScenes] = 1
			result.Written[FamilyAppearsIn] = appeared
			result.Warnings = append(result.Warnings, warnings...)
			if sceneID == "" {
				sceneID = scID
			}
		}
	}

	if len(batch.Facts) > 0 {
		count, err := s.fact.CreateFacts(ctx, batch.Facts, sceneID, universeID)
		if err != nil {
			s.fail(result, FamilyFacts, err)
		} else {
			result.Written[FamilyFacts] = count
		}
	}

	if len(batch.RelationStates) > 0 {
		count, warnings, err := s.relation.CreateRelationStates(ctx, batch.RelationStates, sceneID, universeID)
		if err != nil {
			s.fail(result, FamilyRelationStates, err)
		} else {
			result.Written[FamilyRelationStates] = count
			result.Warnings = append(result.Warnings, warnings...)
		}
	}

	if len(batch.Relations) > 0 {
		count, err := s.relation.CreateSimpleRelations(ctx, batch.Relations)
		if err != nil {
			s.fail(result, FamilyRelations, err)
		} else {
			result.Written[FamilyRelations] = count
		}
	}

	return result
}

func (s *Service) fail(result *CommitResult, family string, err error) {
	result.OK = false
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", family, err))
	if s.logger != nil {
		s.logger.Warn("delta family failed", "family", family, "error", err)
	}
}

// validateUniverseConsistency flags sub-deltas whose own universe differs
// from the batch-level one. These are warnings, not errors: the sub-delta's
// universe wins.
func validateUniverseConsistency(batch *DeltaBatch, universeID string) []string {
	if universeID == "" {
		return nil
	}
	var warnings []string
	if batch.NewStory != nil && batch.NewStory.UniverseID != "" && batch.NewStory.UniverseID != universeID {
		warnings = append(warnings, fmt.Sprintf(
			"new_story.universe_id (%s) differs from provided universe_id (%s)",
			batch.NewStory.UniverseID, universeID))
	}
	if batch.NewArc != nil && batch.NewArc.UniverseID != "" && batch.NewArc.UniverseID != universeID {
		warnings = append(warnings, fmt.Sprintf(
			"new_arc.universe_id (%s) differs from provided universe_id (%s)",
			batch.NewArc.UniverseID, universeID))
	}
	for _, e := range batch.NewEntities {
		if e.UniverseID == "" || e.UniverseID == universeID {
			continue
		}
		name := e.ID
		if name == "" {
			name = e.Name
		}
		warnings = append(warnings, fmt.Sprintf(
			"entity %s universe_id (%s) differs from provided universe_id (%s)",
			name, e.UniverseID, universeID))
	}
	return warnings
}
