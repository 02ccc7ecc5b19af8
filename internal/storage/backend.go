// Package storage persists the result graph of an analysis run.
//
// It defines the StorageBackend contract that all implementations satisfy,
// along with the query types shared across backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Benny93/axon-sql/internal/graph"
)

// ErrNotInitialized is returned by operations on a closed or unopened backend.
var ErrNotInitialized = errors.New("storage backend not initialized")

// SearchResult is one fact matched by SearchFacts.
type SearchResult struct {
	// FactID is the ID of the matching fact.
	FactID string `json:"fact_id"`

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`

	Name          string         `json:"name"`
	QualifiedName string         `json:"qualified_name"`
	Kind          graph.FactKind `json:"kind"`
	ArtifactID    string         `json:"artifact_id"`

	// Snippet is the start of the flattened SQL for query units.
	Snippet string `json:"snippet,omitempty"`
}

// EdgeFilter selects edges. Zero fields match everything.
type EdgeFilter struct {
	Kind           graph.EdgeKind
	SrcID          string
	DstID          string
	UnresolvedOnly bool
	MinConfidence  float64
	Limit          int
}

// Match reports whether e passes the filter, ignoring Limit.
func (f EdgeFilter) Match(e *graph.Edge) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.SrcID != "" && e.SrcID != f.SrcID {
		return false
	}
	if f.DstID != "" && e.DstID != f.DstID {
		return false
	}
	if f.UnresolvedOnly && e.IsResolved() {
		return false
	}
	return e.Confidence >= f.MinConfidence
}

// RunInfo describes the run that produced the stored graph.
type RunInfo struct {
	RunID       string         `json:"run_id"`
	Root        string         `json:"root"`
	CompletedAt time.Time      `json:"completed_at"`
	Stats       map[string]int `json:"stats"`
}

// StorageBackend defines the interface for storage implementations.
//
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// Initialize opens or creates the backend at path.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// BulkLoad replaces the store with the contents of g. Every record is
	// written once.
	BulkLoad(ctx context.Context, g *graph.Graph) error

	// SetRunInfo records metadata about the run that produced the graph.
	SetRunInfo(ctx context.Context, info RunInfo) error

	// GetRunInfo returns the stored run metadata, or nil when absent.
	GetRunInfo(ctx context.Context) (*RunInfo, error)

	// GetFact returns a fact by ID, or nil if not found.
	GetFact(ctx context.Context, id string) (*graph.SourceFact, error)

	// GetFactsByKind returns all facts of a kind sorted by ID.
	GetFactsByKind(ctx context.Context, kind graph.FactKind) ([]*graph.SourceFact, error)

	// GetArtifacts returns all artifacts sorted by path.
	GetArtifacts(ctx context.Context) ([]*graph.Artifact, error)

	// GetEdges returns edges matching the filter sorted by ID.
	GetEdges(ctx context.Context, f EdgeFilter) ([]*graph.Edge, error)

	// GetOutgoing returns edges leaving id, optionally of one kind.
	GetOutgoing(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error)

	// GetIncoming returns resolved edges arriving at id, optionally of one kind.
	GetIncoming(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error)

	// GetJoins returns joins touching table (either side, case-insensitive);
	// an empty table returns all joins.
	GetJoins(ctx context.Context, table string) ([]*graph.Join, error)

	// SearchFacts finds facts by name tokens.
	SearchFacts(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Stats returns record counts using the keys of graph.Graph.Stats.
	Stats(ctx context.Context) (map[string]int, error)
}
