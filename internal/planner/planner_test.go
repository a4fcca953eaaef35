package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemem/codemem/internal/embedder"
	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

func setupPlanner(t *testing.T) (*Planner, *store.SQLiteStore, *embedder.LocalProvider, string) {
	t.Helper()
	st, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	project := types.NewProject(t.TempDir())
	require.NoError(t, st.EnsureProject(context.Background(), project))

	return New(st, emb, nil, zerolog.Nop()), st, emb, project.ID
}

func seedChunk(t *testing.T, st *store.SQLiteStore, emb *embedder.LocalProvider, projectID, path, name, content string) types.DocRef {
	t.Helper()
	ctx := context.Background()
	c := types.Chunk{
		ProjectID:    projectID,
		FilePath:     path,
		StartLine:    1,
		EndLine:      20,
		Kind:         types.ChunkFunction,
		Name:         name,
		Signature:    "func " + name + "()",
		Content:      content,
		LastModified: time.Now().UTC(),
	}
	c.ComputeSize()

	ids, err := st.ReplaceFileChunks(ctx, projectID, path, []types.Chunk{c})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	vec, err := emb.EmbedQuery(ctx, content)
	require.NoError(t, err)
	require.NoError(t, st.SetChunkEmbedding(ctx, ids[0], vec, "local", "local-hash"))
	return types.ChunkRef(ids[0])
}

func seedCoreMemory(t *testing.T, st *store.SQLiteStore, emb *embedder.LocalProvider, projectID, name, content string) types.DocRef {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertCoreMemory(ctx, projectID, name, content)
	require.NoError(t, err)

	doc, err := st.GetMemoryByName(ctx, projectID, name)
	require.NoError(t, err)

	vec, err := emb.EmbedQuery(ctx, content)
	require.NoError(t, err)
	require.NoError(t, st.SetMemoryEmbedding(ctx, doc.ID, vec, "local", "local-hash"))
	return types.MemoryRef(doc.ID)
}

func TestFusedSearchSpansChunksAndMemories(t *testing.T) {
	pl, st, emb, pid := setupPlanner(t)

	chunkRef := seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")
	memRef := seedCoreMemory(t, st, emb, pid, "architecture",
		"jwt authentication uses rs256 signing")

	resp, err := pl.Search(context.Background(), Request{
		ProjectID: pid,
		Query:     "authentication flow",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.QueryID)
	assert.False(t, resp.Degraded)
	require.GreaterOrEqual(t, len(resp.Results), 2)

	got := map[types.DocRef]bool{}
	for i, r := range resp.Results {
		got[r.Ref] = true
		assert.Equal(t, i+1, r.Rank)
		assert.Positive(t, r.FusedScore)
	}
	assert.True(t, got[chunkRef])
	assert.True(t, got[memRef])
}

func TestFusedRanksWithWeightedRRFByDefault(t *testing.T) {
	pl, st, emb, pid := setupPlanner(t)

	seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")
	seedCoreMemory(t, st, emb, pid, "architecture",
		"jwt authentication uses rs256 signing")

	resp, err := pl.Search(context.Background(), Request{
		ProjectID: pid,
		Query:     "authentication flow",
	})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)

	// Healthy pipelines always take the weighted reciprocal rank path: a
	// document's score is bounded by the total weight over k+1, far below
	// the merge-order scores the degraded path assigns
	for _, r := range resp.Results {
		assert.Positive(t, r.FusedScore)
		assert.LessOrEqual(t, r.FusedScore, 1.0/61.0+1e-9)
	}
}

func TestTextModeMatchesLexicalOnly(t *testing.T) {
	pl, st, emb, pid := setupPlanner(t)

	chunkRef := seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")
	seedCoreMemory(t, st, emb, pid, "architecture",
		"jwt authentication uses rs256 signing")

	resp, err := pl.Search(context.Background(), Request{
		ProjectID: pid,
		Query:     "login",
		Mode:      ModeText,
	})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, chunkRef, resp.Results[0].Ref)
	assert.Equal(t, "auth/service.go", resp.Results[0].FilePath)
}

func TestSimilarVariantRanksBySimilarity(t *testing.T) {
	pl, st, emb, pid := setupPlanner(t)

	close1 := seedChunk(t, st, emb, pid, "auth/token.go", "verifyToken",
		"jwt token signature verification")
	seedChunk(t, st, emb, pid, "tree/rotate.go", "rotateLeft",
		"binary tree rotation balancing")

	resp, err := pl.Search(context.Background(), Request{
		ProjectID: pid,
		Query:     "jwt token verification",
		Variant:   VariantSimilar,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, close1, resp.Results[0].Ref)
	assert.Positive(t, resp.Results[0].SemanticScore)
}

func TestSearchRecordsSideEffects(t *testing.T) {
	pl, st, emb, pid := setupPlanner(t)
	seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")

	_, err := pl.Search(context.Background(), Request{ProjectID: pid, Query: "login", Mode: ModeText})
	require.NoError(t, err)

	// Access counts bump off the critical path
	assert.Eventually(t, func() bool {
		hits, err := st.SearchFrequent(context.Background(), pid, 1, 10, nil)
		return err == nil && len(hits) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

// failingEmbedder simulates a provider outage.
type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(context.Context, []string) (*embedder.BatchResult, error) {
	return nil, errors.New("provider down")
}
func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}
func (failingEmbedder) Dimension() int   { return embedder.LocalDimension }
func (failingEmbedder) Provider() string { return "failing" }
func (failingEmbedder) Close() error     { return nil }

func TestFusedDegradesWhenEmbeddingFails(t *testing.T) {
	_, st, emb, pid := setupPlanner(t)
	chunkRef := seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")

	pl := New(st, failingEmbedder{}, nil, zerolog.Nop())
	resp, err := pl.Search(context.Background(), Request{ProjectID: pid, Query: "authentication"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)

	// The lexical pipeline still answers, through the precedence merge
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, chunkRef, resp.Results[0].Ref)
	assert.Equal(t, 1.0, resp.Results[0].FusedScore)
}

// textDownStore simulates a text index that has not finished building.
type textDownStore struct {
	*store.SQLiteStore
}

func (s textDownStore) SearchText(context.Context, string, string, int, *store.Filters) ([]store.DocScore, error) {
	return nil, fmt.Errorf("text index for chunks: %w", types.ErrIndexNotReady)
}

func TestFusedFallsBackWhenPipelineFails(t *testing.T) {
	_, st, emb, pid := setupPlanner(t)
	chunkRef := seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")

	pl := New(textDownStore{st}, emb, nil, zerolog.Nop())
	resp, err := pl.Search(context.Background(), Request{ProjectID: pid, Query: "authentication flow"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)

	// Surviving pipelines answer via the precedence merge, semantic first
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, chunkRef, resp.Results[0].Ref)
	assert.Equal(t, 1.0, resp.Results[0].FusedScore)
}

func TestVectorModeFailsWhenEmbeddingFails(t *testing.T) {
	_, st, _, pid := setupPlanner(t)

	pl := New(st, failingEmbedder{}, nil, zerolog.Nop())
	_, err := pl.Search(context.Background(), Request{ProjectID: pid, Query: "anything", Mode: ModeVector})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query embedding failed")
}

// brokenStore fails every pipeline it serves.
type brokenStore struct {
	store.Store
}

func (brokenStore) SearchText(context.Context, string, string, int, *store.Filters) ([]store.DocScore, error) {
	return nil, errors.New("database gone")
}

func TestAllPipelinesFailingIsAnError(t *testing.T) {
	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	pl := New(brokenStore{}, emb, nil, zerolog.Nop())
	_, err = pl.Search(context.Background(), Request{ProjectID: "p", Query: "anything", Mode: ModeText})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all pipelines failed")
}

// recordingReranker reverses the page so reordering is observable.
type recordingReranker struct {
	calls int
}

func (r *recordingReranker) Rerank(_ context.Context, _ string, results []types.SearchResult, _ int) []types.SearchResult {
	r.calls++
	out := make([]types.SearchResult, len(results))
	for i, res := range results {
		out[len(results)-1-i] = res
	}
	return out
}

func TestRerankerReordersFusedPage(t *testing.T) {
	_, st, emb, pid := setupPlanner(t)
	seedChunk(t, st, emb, pid, "auth/service.go", "login",
		"validate jwt token authentication login flow")
	seedCoreMemory(t, st, emb, pid, "architecture",
		"jwt authentication uses rs256 signing")

	plain := New(st, emb, nil, zerolog.Nop())
	baseline, err := plain.Search(context.Background(), Request{ProjectID: pid, Query: "authentication flow"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(baseline.Results), 2)

	rr := &recordingReranker{}
	reranked, err := New(st, emb, rr, zerolog.Nop()).Search(context.Background(),
		Request{ProjectID: pid, Query: "authentication flow"})
	require.NoError(t, err)
	assert.Equal(t, 1, rr.calls)

	require.Len(t, reranked.Results, len(baseline.Results))
	assert.Equal(t, baseline.Results[0].Ref, reranked.Results[len(reranked.Results)-1].Ref)
	for i, r := range reranked.Results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestNormalize(t *testing.T) {
	t.Run("empty query rejected", func(t *testing.T) {
		_, _, err := normalize(&Request{})
		assert.Error(t, err)
	})
	t.Run("temporal allows empty query", func(t *testing.T) {
		mode, limit, err := normalize(&Request{Mode: ModeTemporal})
		require.NoError(t, err)
		assert.Equal(t, ModeTemporal, mode)
		assert.Equal(t, DefaultLimit, limit)
	})
	t.Run("default mode is fused", func(t *testing.T) {
		mode, _, err := normalize(&Request{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, ModeFused, mode)
	})
	t.Run("unknown mode rejected", func(t *testing.T) {
		_, _, err := normalize(&Request{Query: "q", Mode: Mode("psychic")})
		assert.Error(t, err)
	})
	t.Run("unknown variant rejected", func(t *testing.T) {
		_, _, err := normalize(&Request{Query: "q", Variant: Variant("fuzzy")})
		assert.Error(t, err)
	})
	t.Run("limit clamped", func(t *testing.T) {
		_, limit, err := normalize(&Request{Query: "q", Limit: 500})
		require.NoError(t, err)
		assert.Equal(t, MaxLimit, limit)
	})
}
