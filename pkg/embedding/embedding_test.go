package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

// fakeEmbedder returns a vector whose first element is the text length.
type fakeEmbedder struct {
	name  string
	err   error
	calls atomic.Int32
	seen  [][]string
}

func (f *fakeEmbedder) Name() string { return f.name }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.seen = append(f.seen, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

var _ Embedder = (*fakeEmbedder)(nil)

func TestPad(t *testing.T) {
	padded, err := Pad([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 0, 0}, padded)

	same, err := Pad([]float32{1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, same)

	_, err = Pad([]float32{1, 2, 3}, 2)
	assert.ErrorIs(t, err, ErrTooWide)
}

func TestPad_1536To2048(t *testing.T) {
	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = 0.5
	}
	padded, err := Pad(vec, 2048)
	require.NoError(t, err)
	require.Len(t, padded, 2048)
	assert.Equal(t, float32(0.5), padded[1535])
	assert.Equal(t, float32(0), padded[1536])
	assert.Equal(t, float32(0), padded[2047])
}

func TestChain_FallsBack(t *testing.T) {
	primary := &fakeEmbedder{name: "primary", err: errors.New("connection refused")}
	fallback := &fakeEmbedder{name: "fallback"}

	chain := NewChain(zap.NewNop(), primary, nil, fallback)
	vecs, err := chain.Embed(context.Background(), []string{"abc"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}}, vecs)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), fallback.calls.Load())
	assert.Equal(t, "chain[primary,fallback]", chain.Name())
}

func TestChain_ReportsAnsweringSpace(t *testing.T) {
	primary := &fakeEmbedder{name: "remote"}
	fallback := &fakeEmbedder{name: "local"}
	chain := NewChain(zap.NewNop(), primary, fallback)
	ctx := context.Background()

	_, space, err := EmbedInSpace(ctx, chain, []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "remote", space)

	// The remote goes down partway through a run.
	primary.err = errors.New("connection refused")
	vec, space, err := EmbedOneInSpace(ctx, chain, "customers")
	require.NoError(t, err)
	assert.Equal(t, "local", space)
	assert.Equal(t, []float32{9, 1}, vec)
}

func TestCachedEmbedder_KeepsStageSpace(t *testing.T) {
	remote := &fakeEmbedder{name: "remote"}
	local := &fakeEmbedder{name: "local"}
	cachedRemote, err := NewCachedEmbedder(remote, 8)
	require.NoError(t, err)
	cachedLocal, err := NewCachedEmbedder(local, 8)
	require.NoError(t, err)
	chain := NewChain(zap.NewNop(), cachedRemote, cachedLocal)
	ctx := context.Background()

	// A fallback answer is cached under the local stage only.
	remote.err = errors.New("timeout")
	_, space, err := EmbedInSpace(ctx, chain, []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "local", space)

	// Once the remote recovers, the same text is served from its own space.
	remote.err = nil
	_, space, err = EmbedInSpace(ctx, chain, []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "remote", space)
	assert.Equal(t, 1, cachedRemote.Len())
	assert.Equal(t, 1, cachedLocal.Len())

	_, err = NewCachedEmbedder(chain, 8)
	assert.Error(t, err, "a chain mixes spaces and cannot sit behind one cache")
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(zap.NewNop(),
		&fakeEmbedder{name: "a", err: errors.New("down")},
		&fakeEmbedder{name: "b", err: errors.New("no model")},
	)
	_, err := chain.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Contains(t, err.Error(), "b: no model")

	_, err = NewChain(zap.NewNop()).Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestCachedEmbedder_OnlyMissesReachNext(t *testing.T) {
	inner := &fakeEmbedder{name: "inner"}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cached.Embed(ctx, []string{"orders", "customers", "orders"})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, first[0], first[2])
	assert.Equal(t, []string{"orders", "customers"}, inner.seen[0], "duplicates are embedded once")

	second, err := cached.Embed(ctx, []string{"customers", "stores"})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 1}, second[0])
	assert.Equal(t, []string{"stores"}, inner.seen[1])
	assert.Equal(t, 3, cached.Len())

	_, err = cached.Embed(ctx, []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load(), "full hit does not call the inner embedder")
}

func TestCachedEmbedder_ErrorNotCached(t *testing.T) {
	inner := &fakeEmbedder{name: "inner", err: errors.New("boom")}
	cached, err := NewCachedEmbedder(inner, 0)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"a"})
	assert.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestRemoteEmbedder(t *testing.T) {
	client := &llm.MockLLMClient{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			assert.Equal(t, "text-embedding-3-small", model)
			out := make([][]float32, len(inputs))
			for i := range inputs {
				out[i] = []float32{float32(i), 0, 0}
			}
			return out, nil
		},
	}

	e := NewRemoteEmbedder(client, "text-embedding-3-small", 3, zap.NewNop())
	e.batchSize = 2

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(0), vecs[2][0], "second batch restarts indexing")
	assert.Equal(t, 2, client.CreateEmbeddingsCalls())
}

func TestRemoteEmbedder_DimensionMismatch(t *testing.T) {
	client := &llm.MockLLMClient{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			return [][]float32{{1, 2}}, nil
		},
	}
	e := NewRemoteEmbedder(client, "m", 3, zap.NewNop())

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension 2")
}

func TestRemoteEmbedder_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	client := &llm.MockLLMClient{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("status code: 503 service unavailable")
			}
			return [][]float32{{1}}, nil
		},
	}
	e := NewRemoteEmbedder(client, "m", 0, zap.NewNop())
	e.retry = &retry.Config{MaxRetries: 2, Multiplier: 1}

	vecs, err := e.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}}, vecs)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestNew_NoEmbedders(t *testing.T) {
	factory := &llm.MockClientFactory{Err: errors.New("no key")}
	_, err := New(&config.EmbeddingConfig{LocalModelDir: t.TempDir()}, factory, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_RemoteOnly(t *testing.T) {
	factory := &llm.MockClientFactory{Embedding: &llm.MockLLMClient{}}
	e, err := New(&config.EmbeddingConfig{Model: "m", CacheSize: 8}, factory, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "chain[cached:remote:m]", e.Name())
}

func TestLocalEmbedder_Available(t *testing.T) {
	assert.False(t, NewLocalEmbedder("", zap.NewNop()).Available())
	assert.False(t, NewLocalEmbedder(t.TempDir(), zap.NewNop()).Available())
}
