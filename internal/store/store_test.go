package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemem/codemem/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	st, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testProject(t *testing.T, st *SQLiteStore, root string) *types.Project {
	t.Helper()
	project := types.NewProject(root)
	require.NoError(t, st.EnsureProject(context.Background(), project))
	return project
}

func testChunk(projectID, path, name, content string) types.Chunk {
	c := types.Chunk{
		ProjectID:    projectID,
		FilePath:     path,
		StartLine:    1,
		EndLine:      10,
		Kind:         types.ChunkFunction,
		Name:         name,
		Signature:    "func " + name + "()",
		Content:      content,
		LastModified: time.Now().UTC(),
	}
	c.ComputeSize()
	return c
}

func TestEnsureProjectIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	project := types.NewProject("/tmp/proj-a")
	require.NoError(t, st.EnsureProject(ctx, project))
	require.NoError(t, st.EnsureProject(ctx, project))

	got, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.RootPath, got.RootPath)
}

func TestGetProjectNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.GetProject(context.Background(), "missing0000000000")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEnsureIndexesIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// New already ensured once; repeated calls must stay clean
	require.NoError(t, st.EnsureIndexes(ctx))
	require.NoError(t, st.EnsureIndexes(ctx))
	assert.True(t, st.indexes.allReady())
}

func TestRebuildIndexes(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-rebuild")

	_, err := st.ReplaceFileChunks(ctx, project.ID, "a.go",
		[]types.Chunk{testChunk(project.ID, "a.go", "Handle", "func Handle() { return }")})
	require.NoError(t, err)

	require.NoError(t, st.RebuildIndexes(ctx))

	// Rebuilt index still finds pre-existing content
	hits, err := st.SearchText(ctx, project.ID, "Handle", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestVectorIndexLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-vecidx")

	// Vector definitions go through the same ensure/rebuild lifecycle as
	// the text indexes
	assert.True(t, st.indexes.isReady("chunks_vector"))
	assert.True(t, st.indexes.isReady("memories_vector"))

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "a.go",
		[]types.Chunk{testChunk(project.ID, "a.go", "Handle", "func Handle() { return }")})
	require.NoError(t, err)
	require.NoError(t, st.SetChunkEmbedding(ctx, ids[0], []float32{1, 0, 0}, "local", "local-hash"))

	require.NoError(t, st.RebuildIndexes(ctx))
	assert.True(t, st.indexes.isReady("chunks_vector"))

	hits, err := st.SearchVector(ctx, project.ID, []float32{1, 0, 0}, 10, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	status, err := st.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.True(t, status.IndexesReady)
}

func TestReplaceFileChunks(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-chunks")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "svc.go", []types.Chunk{
		testChunk(project.ID, "svc.go", "Start", "func Start() { run() }"),
		testChunk(project.ID, "svc.go", "Stop", "func Stop() { halt() }"),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// Replacement drops the old rows
	ids2, err := st.ReplaceFileChunks(ctx, project.ID, "svc.go", []types.Chunk{
		testChunk(project.ID, "svc.go", "Restart", "func Restart() { cycle() }"),
	})
	require.NoError(t, err)
	require.Len(t, ids2, 1)

	_, err = st.GetChunk(ctx, ids[0])
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := st.GetChunk(ctx, ids2[0])
	require.NoError(t, err)
	assert.Equal(t, "Restart", got.Name)

	// File record was touched
	_, seen, err := st.LastIndexedAt(ctx, project.ID, "svc.go")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestProjectScoping(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	projA := testProject(t, st, "/tmp/proj-scope-a")
	projB := testProject(t, st, "/tmp/proj-scope-b")

	_, err := st.ReplaceFileChunks(ctx, projA.ID, "a.go",
		[]types.Chunk{testChunk(projA.ID, "a.go", "SecretHandler", "func SecretHandler() { authorize() }")})
	require.NoError(t, err)

	// Identical query against the other project returns nothing
	hits, err := st.SearchText(ctx, projB.ID, "SecretHandler", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = st.SearchText(ctx, projA.ID, "SecretHandler", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestSearchTextFilters(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-filters")

	chunkA := testChunk(project.ID, "auth/login.go", "Login", "func Login() { validate credentials }")
	chunkA.PatternTags = []string{"auth"}
	chunkB := testChunk(project.ID, "api/server.go", "Login", "func Login() { validate credentials }")

	_, err := st.ReplaceFileChunks(ctx, project.ID, "auth/login.go", []types.Chunk{chunkA})
	require.NoError(t, err)
	_, err = st.ReplaceFileChunks(ctx, project.ID, "api/server.go", []types.Chunk{chunkB})
	require.NoError(t, err)

	hits, err := st.SearchText(ctx, project.ID, "credentials", 10, &Filters{PathGlob: "auth/*"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = st.SearchText(ctx, project.ID, "credentials", 10, &Filters{Tags: []string{"auth"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

// The same filter set must narrow every search path, whether the query
// references the base table or a join alias.
func TestFiltersApplyAcrossSearchPaths(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-filter-paths")

	idsA, err := st.ReplaceFileChunks(ctx, project.ID, "auth/token.go",
		[]types.Chunk{testChunk(project.ID, "auth/token.go", "Issue", "func Issue() { sign token }")})
	require.NoError(t, err)
	idsB, err := st.ReplaceFileChunks(ctx, project.ID, "api/token.go",
		[]types.Chunk{testChunk(project.ID, "api/token.go", "Issue", "func Issue() { sign token }")})
	require.NoError(t, err)

	require.NoError(t, st.SetChunkEmbedding(ctx, idsA[0], []float32{1, 0, 0}, "local", "test"))
	require.NoError(t, st.SetChunkEmbedding(ctx, idsB[0], []float32{1, 0, 0}, "local", "test"))

	filters := &Filters{PathGlob: "auth/*"}

	hits, err := st.SearchVector(ctx, project.ID, []float32{1, 0, 0}, 16, 10, filters)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkRef(idsA[0]), hits[0].Ref)

	hits, err = st.SearchRecent(ctx, project.ID, time.Hour, 10, filters)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkRef(idsA[0]), hits[0].Ref)

	for _, id := range []int64{idsA[0], idsB[0]} {
		require.NoError(t, st.TouchDocs(ctx, project.ID, []types.DocRef{types.ChunkRef(id)}))
	}
	hits, err = st.SearchFrequent(ctx, project.ID, 1, 10, filters)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkRef(idsA[0]), hits[0].Ref)

	hits, err = st.SearchText(ctx, project.ID, "token", 10, filters)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkRef(idsA[0]), hits[0].Ref)
}

func TestSearchVectorPurego(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-vec")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "v.go", []types.Chunk{
		testChunk(project.ID, "v.go", "Near", "near vector content"),
		testChunk(project.ID, "v.go", "Far", "far vector content"),
	})
	require.NoError(t, err)

	require.NoError(t, st.SetChunkEmbedding(ctx, ids[0], []float32{1, 0, 0}, "local", "test"))
	require.NoError(t, st.SetChunkEmbedding(ctx, ids[1], []float32{0, 1, 0}, "local", "test"))

	hits, err := st.SearchVector(ctx, project.ID, []float32{1, 0.1, 0}, 16, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, types.ChunkRef(ids[0]), hits[0].Ref)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchVectorSkipsDimensionMismatch(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-dim")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "d.go",
		[]types.Chunk{testChunk(project.ID, "d.go", "Odd", "odd dimension content")})
	require.NoError(t, err)
	require.NoError(t, st.SetChunkEmbedding(ctx, ids[0], []float32{1, 2}, "local", "test"))

	hits, err := st.SearchVector(ctx, project.ID, []float32{1, 0, 0}, 16, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCoreMemoryUpsertBumpsVersion(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-mem")

	v1, err := st.UpsertCoreMemory(ctx, project.ID, "architecture", "first draft")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	// Simulate an embedded document, then update it
	doc, err := st.GetMemoryByName(ctx, project.ID, "architecture")
	require.NoError(t, err)
	require.NoError(t, st.SetMemoryEmbedding(ctx, doc.ID, []float32{1, 2, 3}, "local", "test"))

	v2, err := st.UpsertCoreMemory(ctx, project.ID, "architecture", "second draft")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// Update invalidated the stored vector
	pending, err := st.ListDocsMissingEmbedding(ctx, project.ID, 10)
	require.NoError(t, err)
	refs := make([]string, 0, len(pending))
	for _, p := range pending {
		refs = append(refs, p.Ref.String())
	}
	assert.Contains(t, refs, types.MemoryRef(doc.ID).String())

	got, err := st.GetMemoryByName(ctx, project.ID, "architecture")
	require.NoError(t, err)
	assert.Equal(t, "second draft", got.Content)
}

func TestConcurrentCoreMemoryUpserts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-race")

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpsertCoreMemory(ctx, project.ID, "decisions",
				fmt.Sprintf("decision draft %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Every upsert bumped the version exactly once
	doc, err := st.GetMemoryByName(ctx, project.ID, "decisions")
	require.NoError(t, err)
	assert.Equal(t, writers, doc.Version)
}

func TestAppendEventMemory(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-event")

	doc := &types.MemoryDocument{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ProjectID:  project.ID,
		Class:      types.MemoryInsight,
		Content:    "retry loops cluster in the transport layer",
		Importance: 0.5,
	}
	require.NoError(t, st.AppendEventMemory(ctx, doc))

	got, err := st.GetMemory(ctx, project.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryInsight, got.Class)

	// Core documents cannot go through the append path
	core := &types.MemoryDocument{
		ID:        "x",
		ProjectID: project.ID,
		Name:      "architecture",
		Class:     types.MemoryCore,
		Content:   "nope",
	}
	assert.Error(t, st.AppendEventMemory(ctx, core))
}

func TestSearchRecentWindow(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-recent")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "r.go",
		[]types.Chunk{testChunk(project.ID, "r.go", "Fresh", "fresh content here")})
	require.NoError(t, err)

	hits, err := st.SearchRecent(ctx, project.ID, 7*24*time.Hour, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, types.ChunkRef(ids[0]), hits[0].Ref)

	// Docs pushed outside the window drop out
	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339Nano)
	_, err = st.db.ExecContext(ctx, `UPDATE chunks SET freshness = ? WHERE id = ?`, old, ids[0])
	require.NoError(t, err)

	hits, err = st.SearchRecent(ctx, project.ID, 24*time.Hour, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTouchDocsAndSearchFrequent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-freq")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "f.go", []types.Chunk{
		testChunk(project.ID, "f.go", "Hot", "hot path content"),
		testChunk(project.ID, "f.go", "Cold", "cold path content"),
	})
	require.NoError(t, err)

	ref := types.ChunkRef(ids[0])
	for i := 0; i < 5; i++ {
		require.NoError(t, st.TouchDocs(ctx, project.ID, []types.DocRef{ref}))
	}

	hits, err := st.SearchFrequent(ctx, project.ID, 3, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ref, hits[0].Ref)
	assert.Equal(t, float64(5), hits[0].Score)
}

func TestQueryLogCompaction(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-log")

	day := time.Now().UTC().Format("2006-01-02")
	for i := 0; i < 10; i++ {
		require.NoError(t, st.AppendQueryLog(ctx, QueryLogRecord{
			QueryID:     fmt.Sprintf("q-%d", i),
			ProjectID:   project.ID,
			Day:         day,
			Query:       "retry policy",
			ResultCount: 3,
			LatencyMS:   12,
		}))
	}

	removed, err := st.CompactQueryLog(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed)

	var raw int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM query_log WHERE project_id = ?`, project.ID).Scan(&raw))
	assert.Equal(t, 4, raw)

	var aggregated int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT query_count FROM query_log_daily WHERE project_id = ? AND day = ?`,
		project.ID, day).Scan(&aggregated))
	assert.Equal(t, 6, aggregated)

	// Compacting again with nothing outside the keep window removes nothing
	removed, err = st.CompactQueryLog(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestGetStatus(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-status")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "s.go", []types.Chunk{
		testChunk(project.ID, "s.go", "One", "first status content"),
		testChunk(project.ID, "s.go", "Two", "second status content"),
	})
	require.NoError(t, err)
	require.NoError(t, st.SetChunkEmbedding(ctx, ids[0], []float32{1, 0}, "local", "test"))

	status, err := st.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, 1, status.EmbeddedChunks)
	assert.Equal(t, 1, status.PendingVectors)
	assert.True(t, status.IndexesReady)
	assert.Equal(t, VectorExtensionAvailable, status.FusionAvailable)
	assert.False(t, status.LastIndexedAt.IsZero())
}

func TestGetResultHydration(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	project := testProject(t, st, "/tmp/proj-hydrate")

	ids, err := st.ReplaceFileChunks(ctx, project.ID, "h.go",
		[]types.Chunk{testChunk(project.ID, "h.go", "Render", "func Render() { draw() }")})
	require.NoError(t, err)

	r, err := st.GetResult(ctx, project.ID, types.ChunkRef(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "h.go", r.FilePath)
	assert.Equal(t, "Render", r.Name)
	assert.Equal(t, types.ChunkFunction, r.ChunkKind)

	_, err = st.UpsertCoreMemory(ctx, project.ID, "glossary", "chunk: bounded unit of source")
	require.NoError(t, err)
	doc, err := st.GetMemoryByName(ctx, project.ID, "glossary")
	require.NoError(t, err)

	m, err := st.GetResult(ctx, project.ID, types.MemoryRef(doc.ID))
	require.NoError(t, err)
	assert.Equal(t, "glossary", m.MemoryName)
	assert.Equal(t, types.MemoryCore, m.MemoryClass)

	_, err = st.GetResult(ctx, project.ID, types.ChunkRef(99999))
	assert.ErrorIs(t, err, types.ErrNotFound)
}
