package fabula

import (
	"github.com/dan-solli/fabula/pkg/graph"
	"github.com/dan-solli/fabula/pkg/recorder"
	"github.com/dan-solli/fabula/pkg/rules"
)

// Type re-exports for caller convenience

// DeltaBatch is re-exported from recorder package
type DeltaBatch = recorder.DeltaBatch

// CommitResult is re-exported from recorder package
type CommitResult = recorder.CommitResult

// EntityDelta is re-exported from recorder package
type EntityDelta = recorder.EntityDelta

// SceneDelta is re-exported from recorder package
type SceneDelta = recorder.SceneDelta

// FactDelta is re-exported from recorder package
type FactDelta = recorder.FactDelta

// RelationStateDelta is re-exported from recorder package
type RelationStateDelta = recorder.RelationStateDelta

// RelationDelta is re-exported from recorder package
type RelationDelta = recorder.RelationDelta

// RuleResult is re-exported from rules package
type RuleResult = rules.Result

// Node is re-exported from graph package
type Node = graph.Node

// Edge is re-exported from graph package
type Edge = graph.Edge

// Row is re-exported from graph package
type Row = graph.Row
