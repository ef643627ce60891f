// Package graph stores the catalog as a property graph with one embedding per
// node and answers nearest-neighbour queries over those embeddings.
package graph

import (
	"context"
	"errors"
	"math"
	"time"
)

// Node labels and edge types written by the exporter.
const (
	LabelTable  = "Table"
	LabelColumn = "Column"

	EdgeHasColumn = "HAS_COLUMN"
	EdgeRelatedTo = "RELATED_TO"
)

var (
	// ErrNodeNotFound is returned when an edge or vector refers to a missing node.
	ErrNodeNotFound = errors.New("graph node not found")
	// ErrDimensionMismatch is returned when a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("graph store closed")
)

// NodeRef identifies a node by label and key.
type NodeRef struct {
	Label string `json:"label"`
	Key   string `json:"key"`
}

// Node is a labelled vertex. Upserting a node replaces its properties and
// keeps its vector.
type Node struct {
	Label      string         `json:"label"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Ref returns the node's reference.
func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, Key: n.Key}
}

// Edge is a directed, typed connection. An edge is identified by
// (Type, From, To); upserting it again replaces its properties.
type Edge struct {
	Type       string         `json:"type"`
	From       NodeRef        `json:"from"`
	To         NodeRef        `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// QueryOptions narrows QueryNearest.
type QueryOptions struct {
	Label    string  // Only nodes with this label; empty means any
	Space    string  // Only vectors from this embedding space; empty means any
	MinScore float64 // Drop matches below this cosine similarity
}

// Match is one QueryNearest hit.
type Match struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// Store is a graph store with per-node vectors of a fixed dimension.
type Store interface {
	UpsertNode(ctx context.Context, node Node) error
	UpsertEdge(ctx context.Context, edge Edge) error
	// UpsertVector attaches vec to an existing node, tagged with the embedding
	// space that produced it. len(vec) must equal Dimension().
	UpsertVector(ctx context.Context, ref NodeRef, space string, vec []float32) error
	// QueryNearest returns up to k nodes ordered by descending cosine similarity.
	QueryNearest(ctx context.Context, vec []float32, k int, opts QueryOptions) ([]Match, error)
	// Neighbors returns the targets of ref's outgoing edges of edgeType.
	Neighbors(ctx context.Context, ref NodeRef, edgeType string) ([]NodeRef, error)
	// DeleteNode removes a node with its vector and every edge touching it.
	// Deleting a missing node is not an error.
	DeleteNode(ctx context.Context, ref NodeRef) error
	// DeleteVector removes a node's vector, if any.
	DeleteVector(ctx context.Context, ref NodeRef) error
	Dimension() int
	Close() error
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when their lengths differ or either is the zero vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
