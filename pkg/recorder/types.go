// Package recorder applies delta batches to the story-world graph, one
// focused recorder per entity family.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation marks a hard invariant violation (missing universe or scene
// provenance). The offending family's write is skipped and the error is
// surfaced in the batch result.
var ErrValidation = errors.New("validation")

// Write-count keys in CommitResult.Written, one per family.
const (
	FamilyMultiverses    = "multiverses"
	FamilyUniverses      = "universes"
	FamilyArcs           = "arcs"
	FamilyStories        = "stories"
	FamilyEntities       = "entities"
	FamilyScenes         = "scenes"
	FamilyAppearsIn      = "appears_in"
	FamilyFacts          = "facts"
	FamilyRelationStates = "relation_states"
	FamilyRelations      = "relations"
)

// DeltaBatch is one caller-submitted set of creations/updates spanning one
// or more families. SceneID and UniverseID are batch-level defaults for
// sub-deltas that omit their own. IdempotencyKey identifies the batch for
// exactly-once auto-commit; ScopeToken is carried opaquely for the caller.
type DeltaBatch struct {
	SceneID        string               `json:"scene_id,omitempty"`
	UniverseID     string               `json:"universe_id,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	ScopeToken     string               `json:"scope_token,omitempty"`
	NewMultiverse  *MultiverseDelta     `json:"new_multiverse,omitempty"`
	NewUniverse    *UniverseDelta       `json:"new_universe,omitempty"`
	NewArc         *ArcDelta            `json:"new_arc,omitempty"`
	NewStory       *StoryDelta          `json:"new_story,omitempty"`
	NewScene       *SceneDelta          `json:"new_scene,omitempty"`
	NewEntities    []EntityDelta        `json:"new_entities,omitempty"`
	Facts          []FactDelta          `json:"facts,omitempty"`
	RelationStates []RelationStateDelta `json:"relation_states,omitempty"`
	Relations      []RelationDelta      `json:"relations,omitempty"`
}

// MultiverseDelta creates or updates a multiverse.
type MultiverseDelta struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	OmniverseID string `json:"omniverse_id,omitempty"`
}

// UniverseDelta creates or updates a universe.
type UniverseDelta struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	MultiverseID string `json:"multiverse_id,omitempty"`
}

// ArcDelta creates or updates an arc. A resolvable universe is required.
type ArcDelta struct {
	ID           string   `json:"id,omitempty"`
	Title        string   `json:"title,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	OrderingMode string   `json:"ordering_mode,omitempty"`
	UniverseID   string   `json:"universe_id,omitempty"`
}

// StoryDelta creates or updates a story. A resolvable universe is required.
// SequenceIndex, when nil, is auto-assigned on the ordering link.
type StoryDelta struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title,omitempty"`
	Summary       string `json:"summary,omitempty"`
	UniverseID    string `json:"universe_id,omitempty"`
	ArcID         string `json:"arc_id,omitempty"`
	SequenceIndex *int64 `json:"sequence_index,omitempty"`
}

// SceneDelta creates or updates a scene with its participants.
type SceneDelta struct {
	ID            string      `json:"id,omitempty"`
	StoryID       string      `json:"story_id,omitempty"`
	SequenceIndex *int64      `json:"sequence_index,omitempty"`
	When          string      `json:"when,omitempty"`
	TimeSpan      interface{} `json:"time_span,omitempty"`
	RecordedAt    string      `json:"recorded_at,omitempty"`
	Location      string      `json:"location,omitempty"`
	Participants  []string    `json:"participants,omitempty"`
}

// EntityDelta creates or updates an entity. A resolvable universe is required.
type EntityDelta struct {
	ID         string                 `json:"id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Type       string                 `json:"type,omitempty"`
	UniverseID string                 `json:"universe_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Participant ties an entity to a fact under a role.
type Participant struct {
	EntityID string `json:"entity_id"`
	Role     string `json:"role,omitempty"`
}

// EvidenceRef is one evidence item on a fact: either a bare document ID or a
// structured source reference. It unmarshals from a JSON string or object.
type EvidenceRef struct {
	ID         string                 `json:"id,omitempty"`
	DocID      string                 `json:"doc_id,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Kind       string                 `json:"kind,omitempty"`
	StorageKey string                 `json:"storage_key,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts either "doc-123" or {"doc_id": "doc-123", ...}.
func (e *EvidenceRef) UnmarshalJSON(data []byte) error {
	var doc string
	if err := json.Unmarshal(data, &doc); err == nil {
		*e = EvidenceRef{DocID: doc}
		return nil
	}

	type evidenceRef EvidenceRef
	var ref evidenceRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("evidence must be a string or an object: %w", err)
	}
	*e = EvidenceRef(ref)
	return nil
}

// FactDelta creates or updates a fact. Provenance (OccursIn or the batch's
// default scene) must resolve to an existing scene.
type FactDelta struct {
	ID           string        `json:"id,omitempty"`
	UniverseID   string        `json:"universe_id,omitempty"`
	Description  string        `json:"description,omitempty"`
	When         string        `json:"when,omitempty"`
	TimeSpan     interface{}   `json:"time_span,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	OccursIn     string        `json:"occurs_in,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Evidence     []EvidenceRef `json:"evidence,omitempty"`
	DerivedFrom  interface{}   `json:"derived_from,omitempty"`
}

// RelationStateDelta creates or updates a versioned, time-boxed typed edge
// between two entities.
type RelationStateDelta struct {
	ID             string `json:"id,omitempty"`
	Type           string `json:"type,omitempty"`
	EntityA        string `json:"entity_a,omitempty"`
	EntityB        string `json:"entity_b,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	EndedAt        string `json:"ended_at,omitempty"`
	SetInScene     string `json:"set_in_scene,omitempty"`
	ChangedInScene string `json:"changed_in_scene,omitempty"`
	EndedInScene   string `json:"ended_in_scene,omitempty"`
}

// RelationDelta creates or updates a simple weighted edge between two
// entities. Repeat submission overwrites weight and temporal metadata.
type RelationDelta struct {
	EntityA  string                 `json:"entity_a,omitempty"`
	EntityB  string                 `json:"entity_b,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Weight   *float64               `json:"weight,omitempty"`
	Temporal map[string]interface{} `json:"temporal,omitempty"`
}

// CommitResult reports the outcome of applying one or more delta batches.
// OK is false when any hard invariant was violated; the offending family's
// writes are skipped but sibling families are still applied (no rollback).
type CommitResult struct {
	OK       bool           `json:"ok"`
	Written  map[string]int `json:"written"`
	Warnings []string       `json:"warnings,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// NewCommitResult returns an empty, successful result.
func NewCommitResult() *CommitResult {
	return &CommitResult{OK: true, Written: map[string]int{}}
}

// Merge folds another result into this one: OK is ANDed, write counts are
// summed, warnings and errors are appended.
func (r *CommitResult) Merge(other *CommitResult) {
	if other == nil {
		return
	}
	r.OK = r.OK && other.OK
	for family, count := range other.Written {
		r.Written[family] += count
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Errors = append(r.Errors, other.Errors...)
}
