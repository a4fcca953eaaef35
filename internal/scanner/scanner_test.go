package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemem/codemem/pkg/types"
)

// memoryState is an in-memory IndexState for tests.
type memoryState struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryState() *memoryState {
	return &memoryState{seen: make(map[string]time.Time)}
}

func (m *memoryState) LastIndexedAt(_ context.Context, projectID, relPath string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[projectID+"/"+relPath]
	return at, ok, nil
}

func (m *memoryState) mark(projectID, relPath string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[projectID+"/"+relPath] = at
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func scanProject(t *testing.T, root string, state IndexState, opts Options) *Result {
	t.Helper()
	s := New(state, zerolog.Nop())
	res, err := s.Scan(context.Background(), types.NewProject(root), opts)
	require.NoError(t, err)
	return res
}

func TestScanOneLargeFunctionTwoSmallFiles(t *testing.T) {
	root := t.TempDir()

	// One 150-line function
	var b strings.Builder
	b.WriteString("func Process(input []byte) error {\n")
	for i := 0; i < 148; i++ {
		b.WriteString(fmt.Sprintf("\tstep%d(input)\n", i))
	}
	b.WriteString("}\n")
	writeFile(t, root, "big.go", b.String())

	// Two 10-line files whose chunks stay under the minimum
	small := "package a\n\n// a\n// b\n// c\n// d\n// e\n// f\n// g\n// h\n"
	writeFile(t, root, "small1.go", small)
	writeFile(t, root, "small2.go", small)

	res := scanProject(t, root, nil, Options{MinChunkSize: 80})

	assert.Equal(t, 3, res.FilesProcessed)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "Process", res.Chunks[0].Name)
	assert.Equal(t, types.ChunkFunction, res.Chunks[0].Kind)
}

func TestMinChunkSizeBoundary(t *testing.T) {
	root := t.TempDir()

	// The whole file becomes one module chunk, so its byte size is exact
	content := strings.Repeat("x", 99) + "\n" + strings.Repeat("y", 100)
	writeFile(t, root, "exact.txt", content)

	// len(content) == 200: kept at the boundary
	res := scanProject(t, root, nil, Options{MinChunkSize: len(content)})
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, len(content), res.Chunks[0].Size)

	// One byte larger minimum excludes it
	res = scanProject(t, root, nil, Options{MinChunkSize: len(content) + 1})
	assert.Empty(t, res.Chunks)
}

func TestRescanSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "stable.go", "func Stable() {\n\treturn\n}\n// padding so the chunk clears the default minimum size threshold\n")

	project := types.NewProject(root)
	state := newMemoryState()

	res := scanProject(t, root, state, Options{MinChunkSize: 1})
	require.Equal(t, 1, res.FilesProcessed)

	// Record the index time after the file's mtime
	state.mark(project.ID, "stable.go", time.Now().Add(time.Hour))

	res = scanProject(t, root, state, Options{MinChunkSize: 1})
	assert.Equal(t, 0, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesSkipped)
	assert.Empty(t, res.Chunks)

	// Force overrides the skip
	res = scanProject(t, root, state, Options{MinChunkSize: 1, Force: true})
	assert.Equal(t, 1, res.FilesProcessed)
	assert.NotEmpty(t, res.Chunks)
}

func TestExcludeAndIncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "func Keep() { return 1 }\n// enough content to clear the minimum\n")
	writeFile(t, root, "skip.md", "# readme with enough content to be a chunk if it were included\n")
	writeFile(t, root, "node_modules/dep/index.js", "function dep() { return 1 }\n")

	res := scanProject(t, root, nil, Options{
		Include:      []string{"**.go"},
		MinChunkSize: 1,
	})
	require.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, "keep.go", res.Chunks[0].FilePath)
}

func TestBinaryAndOversizedFilesSkippedWithError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{1, 2, 0, 4}, 0644))
	writeFile(t, root, "ok.go", "func OK() { return true }\n// filler so this chunk survives the minimum\n")

	res := scanProject(t, root, nil, Options{MinChunkSize: 1})
	assert.Equal(t, 1, res.FilesProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "blob.bin", res.Errors[0].Path)
}

func TestChunkSourceGoDeclarations(t *testing.T) {
	src := `package web

import (
	"net/http"
)

type Server struct {
	addr string
}

func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, nil)
}
`
	c := NewChunker()
	chunks := c.ChunkSource("proj", "web/server.go", src, time.Now())
	require.Len(t, chunks, 3)

	assert.Equal(t, types.ChunkModule, chunks[0].Kind)
	assert.Equal(t, "server", chunks[0].Name)

	assert.Equal(t, types.ChunkClass, chunks[1].Kind)
	assert.Equal(t, "Server", chunks[1].Name)

	assert.Equal(t, types.ChunkFunction, chunks[2].Kind)
	assert.Equal(t, "Start", chunks[2].Name)
	assert.Equal(t, "func (s *Server) Start() error {", chunks[2].Signature)

	for _, ch := range chunks {
		assert.Contains(t, ch.Dependencies, "net/http")
	}
}

func TestChunkSourceSplitsOversizedDeclarations(t *testing.T) {
	var b strings.Builder
	b.WriteString("def huge():\n")
	for i := 0; i < MaxChunkLines+50; i++ {
		b.WriteString("    pass\n")
	}
	chunks := NewChunker().ChunkSource("proj", "huge.py", b.String(), time.Now())

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.EndLine-ch.StartLine+1, MaxChunkLines)
		assert.Equal(t, "huge", ch.Name)
	}
}

func TestChunkSourceUnknownLanguage(t *testing.T) {
	chunks := NewChunker().ChunkSource("proj", "notes.txt", "just prose, nothing declarative", time.Now())
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkModule, chunks[0].Kind)
	assert.Equal(t, "notes", chunks[0].Name)
}
