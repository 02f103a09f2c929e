// Package graph provides the SQLite-backed store for fabula's story-world graph.
package graph

import (
	"context"
	"errors"
	"time"
)

// Node labels used throughout the graph.
const (
	LabelOmniverse     = "Omniverse"
	LabelMultiverse    = "Multiverse"
	LabelUniverse      = "Universe"
	LabelArc           = "Arc"
	LabelStory         = "Story"
	LabelScene         = "Scene"
	LabelEntity        = "Entity"
	LabelFact          = "Fact"
	LabelRelationState = "RelationState"
	LabelSource        = "Source"
	LabelSystem        = "System"
	LabelAxiom         = "Axiom"
	LabelArchetype     = "Archetype"
)

// Edge relations used throughout the graph.
const (
	RelHas            = "HAS"
	RelHasUniverse    = "HAS_UNIVERSE"
	RelHasArc         = "HAS_ARC"
	RelHasStory       = "HAS_STORY"
	RelHasScene       = "HAS_SCENE"
	RelBelongsTo      = "BELONGS_TO"
	RelAppearsIn      = "APPEARS_IN"
	RelOccursIn       = "OCCURS_IN"
	RelParticipatesAs = "PARTICIPATES_AS"
	RelSupportedBy    = "SUPPORTED_BY"
	RelStateFor       = "REL_STATE_FOR"
	RelSetInScene     = "SET_IN_SCENE"
	RelChangedInScene = "CHANGED_IN_SCENE"
	RelEndedInScene   = "ENDED_IN_SCENE"
	RelSimple         = "REL"
	RelUsesSystem     = "USES_SYSTEM"
	RelAppliesTo      = "APPLIES_TO"
	RelRefersTo       = "REFERS_TO"
)

// Node is a labeled graph node. Name, Type and UniverseID are first-class
// columns because nearly every read filters on them; everything else lives
// in Props as JSON.
type Node struct {
	ID         string
	Label      string
	Name       string
	Type       string
	UniverseID string
	Props      map[string]interface{}
	CreatedAt  time.Time
}

// Edge is a directed edge. Discriminator is part of the edge identity and
// carries the role of a PARTICIPATES_AS edge, the endpoint tag of a
// REL_STATE_FOR edge, or the type of a simple REL edge; it is empty for
// plain containment links. Seq carries the sequence index on ordering links.
type Edge struct {
	SourceID      string
	Relation      string
	TargetID      string
	Discriminator string
	Weight        *float64
	Seq           *int64
	Props         map[string]interface{}
	CreatedAt     time.Time
}

// Row is one result row of a parameterized read query.
type Row map[string]interface{}

// Store defines the graph storage operations the persistence core needs.
// Implementations must tolerate concurrent callers; the underlying store's
// own concurrency control applies.
type Store interface {
	// UpsertNode adds a node or merges it into an existing node with the
	// same ID. Name/Type/UniverseID overwrite only when non-empty; Props
	// are merged key-by-key.
	UpsertNode(ctx context.Context, node *Node) error

	// UpsertEdge adds an edge or merges it into the existing edge with the
	// same (source, relation, target, discriminator). Weight and Seq
	// overwrite only when provided.
	UpsertEdge(ctx context.Context, edge *Edge) error

	// GetNode retrieves a node by ID. Returns (nil, nil) if not found.
	GetNode(ctx context.Context, id string) (*Node, error)

	// GetEdge retrieves an edge by its identity quad. Returns (nil, nil) if
	// not found.
	GetEdge(ctx context.Context, sourceID, relation, targetID, discriminator string) (*Edge, error)

	// NodeExists reports whether a node with the given ID exists.
	NodeExists(ctx context.Context, id string) (bool, error)

	// FilterExisting returns the subset of ids that exist as nodes.
	FilterExisting(ctx context.Context, ids []string) (map[string]bool, error)

	// NextSeq returns max(seq)+1 over edges with the given source and
	// relation, or 0 when no such edge carries a sequence index.
	NextSeq(ctx context.Context, sourceID, relation string) (int64, error)

	// Rows executes a parameterized read query and returns its rows.
	// Parameters bind by name (":sid" in the query binds params["sid"]).
	Rows(ctx context.Context, query string, params map[string]interface{}) ([]Row, error)

	// NodeCount returns the total number of nodes.
	NodeCount(ctx context.Context) (int64, error)

	// EdgeCount returns the total number of edges.
	EdgeCount(ctx context.Context) (int64, error)

	// Close releases database resources.
	Close() error
}

// ErrTemplateNotFound indicates a query template name is not known to the
// template source.
var ErrTemplateNotFound = errors.New("query template not found")
