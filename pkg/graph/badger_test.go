package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, dim int) *BadgerStore {
	t.Helper()
	store, err := NewInMemoryStore(dim, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func tableNode(key string) Node {
	return Node{Label: LabelTable, Key: key, Properties: map[string]any{"name": key}}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}

func TestBadgerStore_RejectsBadDimension(t *testing.T) {
	_, err := NewInMemoryStore(0, zap.NewNop())
	assert.Error(t, err)
}

func TestBadgerStore_UpsertNodeReplacesProperties(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	require.NoError(t, store.UpsertNode(ctx, Node{Label: LabelTable, Key: "c.s.t", Properties: map[string]any{"rows": 1.0}}))
	require.NoError(t, store.UpsertNode(ctx, Node{Label: LabelTable, Key: "c.s.t", Properties: map[string]any{"rows": 2.0}}))

	node, err := store.GetNode(ctx, NodeRef{Label: LabelTable, Key: "c.s.t"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, node.Properties["rows"])
	assert.False(t, node.UpdatedAt.IsZero())

	count, err := store.CountNodes(ctx, LabelTable)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBadgerStore_GetNodeMissing(t *testing.T) {
	store := newTestStore(t, 3)
	_, err := store.GetNode(context.Background(), NodeRef{Label: LabelTable, Key: "nope"})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestBadgerStore_UpsertEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	table := tableNode("c.s.t")
	col := Node{Label: LabelColumn, Key: "c.s.t.id"}
	require.NoError(t, store.UpsertNode(ctx, table))
	require.NoError(t, store.UpsertNode(ctx, col))

	edge := Edge{Type: EdgeHasColumn, From: table.Ref(), To: col.Ref()}
	require.NoError(t, store.UpsertEdge(ctx, edge))
	edge.Properties = map[string]any{"ordinal": 1.0}
	require.NoError(t, store.UpsertEdge(ctx, edge), "re-upserting an edge replaces it")

	edges, err := store.Edges(ctx, EdgeHasColumn)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 1.0, edges[0].Properties["ordinal"])

	related, err := store.Edges(ctx, EdgeRelatedTo)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestBadgerStore_UpsertEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)
	require.NoError(t, store.UpsertNode(ctx, tableNode("c.s.t")))

	err := store.UpsertEdge(ctx, Edge{
		Type: EdgeHasColumn,
		From: NodeRef{Label: LabelTable, Key: "c.s.t"},
		To:   NodeRef{Label: LabelColumn, Key: "c.s.t.missing"},
	})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestBadgerStore_UpsertVector(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)
	ref := NodeRef{Label: LabelTable, Key: "c.s.t"}

	err := store.UpsertVector(ctx, ref, "test", []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrNodeNotFound, "vector needs its node")

	require.NoError(t, store.UpsertNode(ctx, tableNode("c.s.t")))
	err = store.UpsertVector(ctx, ref, "test", []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, store.UpsertVector(ctx, ref, "test", []float32{1, 0, 0}))
	has, err := store.HasVector(ctx, ref)
	require.NoError(t, err)
	assert.True(t, has)

	// Re-upserting the node keeps the vector.
	require.NoError(t, store.UpsertNode(ctx, tableNode("c.s.t")))
	has, err = store.HasVector(ctx, ref)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBadgerStore_QueryNearest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	vectors := map[string][]float32{
		"east":      {1, 0},
		"northeast": {1, 1},
		"north":     {0, 1},
		"west":      {-1, 0},
	}
	for key, vec := range vectors {
		require.NoError(t, store.UpsertNode(ctx, tableNode(key)))
		require.NoError(t, store.UpsertVector(ctx, NodeRef{Label: LabelTable, Key: key}, "test", vec))
	}
	col := Node{Label: LabelColumn, Key: "east.col"}
	require.NoError(t, store.UpsertNode(ctx, col))
	require.NoError(t, store.UpsertVector(ctx, col.Ref(), "test", []float32{1, 0}))

	matches, err := store.QueryNearest(ctx, []float32{1, 0}, 3, QueryOptions{Label: LabelTable})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "east", matches[0].Node.Key)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "northeast", matches[1].Node.Key)
	assert.Equal(t, "north", matches[2].Node.Key)

	matches, err = store.QueryNearest(ctx, []float32{1, 0}, 10, QueryOptions{MinScore: 0.5})
	require.NoError(t, err)
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, m.Node.Key)
	}
	assert.ElementsMatch(t, []string{"east", "east.col", "northeast"}, keys)

	_, err = store.QueryNearest(ctx, []float32{1, 0, 0}, 3, QueryOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	matches, err = store.QueryNearest(ctx, []float32{1, 0}, 0, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBadgerStore_Closed(t *testing.T) {
	store, err := NewInMemoryStore(2, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	err = store.UpsertNode(context.Background(), tableNode("t"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBadgerStore(BadgerOptions{Dir: dir, Dimension: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.UpsertNode(ctx, tableNode("c.s.t")))
	require.NoError(t, store.UpsertVector(ctx, NodeRef{Label: LabelTable, Key: "c.s.t"}, "test", []float32{0, 1}))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(BadgerOptions{Dir: dir, Dimension: 2}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	matches, err := reopened.QueryNearest(ctx, []float32{0, 1}, 1, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c.s.t", matches[0].Node.Key)
}

func TestBadgerStore_QueryNearestBySpace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	require.NoError(t, store.UpsertNode(ctx, tableNode("remote_t")))
	require.NoError(t, store.UpsertVector(ctx, NodeRef{Label: LabelTable, Key: "remote_t"}, "remote", []float32{1, 0}))
	require.NoError(t, store.UpsertNode(ctx, tableNode("local_t")))
	require.NoError(t, store.UpsertVector(ctx, NodeRef{Label: LabelTable, Key: "local_t"}, "local", []float32{1, 0}))

	matches, err := store.QueryNearest(ctx, []float32{1, 0}, 10, QueryOptions{Space: "local"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "local_t", matches[0].Node.Key)

	matches, err = store.QueryNearest(ctx, []float32{1, 0}, 10, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	space, ok, err := store.VectorSpace(ctx, NodeRef{Label: LabelTable, Key: "remote_t"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "remote", space)
}

func TestBadgerStore_DeleteNode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	table := tableNode("c.s.t")
	colA := Node{Label: LabelColumn, Key: "c.s.t.a"}
	colB := Node{Label: LabelColumn, Key: "c.s.t.b"}
	other := Node{Label: LabelColumn, Key: "c.s.u.a_id"}
	for _, n := range []Node{table, colA, colB, other} {
		require.NoError(t, store.UpsertNode(ctx, n))
	}
	require.NoError(t, store.UpsertEdge(ctx, Edge{Type: EdgeHasColumn, From: table.Ref(), To: colA.Ref()}))
	require.NoError(t, store.UpsertEdge(ctx, Edge{Type: EdgeHasColumn, From: table.Ref(), To: colB.Ref()}))
	require.NoError(t, store.UpsertEdge(ctx, Edge{Type: EdgeRelatedTo, From: other.Ref(), To: colA.Ref()}))
	require.NoError(t, store.UpsertVector(ctx, colA.Ref(), "test", []float32{1, 0}))

	refs, err := store.Neighbors(ctx, table.Ref(), EdgeHasColumn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []NodeRef{colA.Ref(), colB.Ref()}, refs)

	require.NoError(t, store.DeleteNode(ctx, colA.Ref()))

	_, err = store.GetNode(ctx, colA.Ref())
	assert.ErrorIs(t, err, ErrNodeNotFound)
	has, err := store.HasVector(ctx, colA.Ref())
	require.NoError(t, err)
	assert.False(t, has)

	edges, err := store.Edges(ctx, "")
	require.NoError(t, err)
	require.Len(t, edges, 1, "incoming and outgoing edges go with the node")
	assert.Equal(t, colB.Ref(), edges[0].To)

	refs, err = store.Neighbors(ctx, table.Ref(), EdgeHasColumn)
	require.NoError(t, err)
	assert.Equal(t, []NodeRef{colB.Ref()}, refs)

	require.NoError(t, store.DeleteNode(ctx, colA.Ref()), "deleting a missing node is a no-op")
}

func TestBadgerStore_DeleteVector(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)
	ref := NodeRef{Label: LabelTable, Key: "c.s.t"}
	require.NoError(t, store.UpsertNode(ctx, tableNode("c.s.t")))
	require.NoError(t, store.UpsertVector(ctx, ref, "test", []float32{0, 1}))

	require.NoError(t, store.DeleteVector(ctx, ref))
	has, err := store.HasVector(ctx, ref)
	require.NoError(t, err)
	assert.False(t, has)

	matches, err := store.QueryNearest(ctx, []float32{0, 1}, 5, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = store.GetNode(ctx, ref)
	assert.NoError(t, err, "the node stays")
}
