package store

import (
	"context"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// Store persists projects, chunks, and memory documents, and serves the four
// retrieval pipelines the query planner fans out to. Every operation is
// scoped by project id; there is no cross-project access path.
type Store interface {
	// Project operations. The project record is read on every caller
	// operation to resolve the store partition.
	EnsureProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, projectID string) (*types.Project, error)

	// File tracking for incremental scans.
	LastIndexedAt(ctx context.Context, projectID, relPath string) (time.Time, bool, error)
	TouchFile(ctx context.Context, projectID, relPath string, at time.Time) error

	// Chunk operations.
	ReplaceFileChunks(ctx context.Context, projectID, filePath string, chunks []types.Chunk) ([]int64, error)
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID int64, vector []float32, provider, model string) error

	// Memory operations. Core memories are singletons per (project, name)
	// with atomic version bumps; events are append-only.
	UpsertCoreMemory(ctx context.Context, projectID, name, content string) (version int, err error)
	GetMemoryByName(ctx context.Context, projectID, name string) (*types.MemoryDocument, error)
	GetMemory(ctx context.Context, projectID, docID string) (*types.MemoryDocument, error)
	AppendEventMemory(ctx context.Context, doc *types.MemoryDocument) error
	SetMemoryEmbedding(ctx context.Context, docID string, vector []float32, provider, model string) error
	ListDocsMissingEmbedding(ctx context.Context, projectID string, limit int) ([]PendingDoc, error)

	// Retrieval pipelines, all project-scoped.
	SearchVector(ctx context.Context, projectID string, vector []float32, pool, limit int, f *Filters) ([]DocScore, error)
	SearchText(ctx context.Context, projectID, query string, limit int, f *Filters) ([]DocScore, error)
	SearchRecent(ctx context.Context, projectID string, window time.Duration, limit int, f *Filters) ([]DocScore, error)
	SearchFrequent(ctx context.Context, projectID string, minAccess int64, limit int, f *Filters) ([]DocScore, error)

	// FusionAvailable reports whether vector distance is computed inside
	// SQL in this build. Informational, surfaced through GetStatus.
	FusionAvailable() bool

	// GetResult loads the presentation payload for a ranked ref.
	GetResult(ctx context.Context, projectID string, ref types.DocRef) (*types.SearchResult, error)

	// Read side effects, kept off the query critical path.
	TouchDocs(ctx context.Context, projectID string, refs []types.DocRef) error
	AppendQueryLog(ctx context.Context, rec QueryLogRecord) error
	CompactQueryLog(ctx context.Context, keepRecent int) (int64, error)

	// Index lifecycle.
	EnsureIndexes(ctx context.Context) error
	RebuildIndexes(ctx context.Context) error

	GetStatus(ctx context.Context, projectID string) (*ProjectStatus, error)
	Close() error
}

// DocScore is one pipeline hit: a ref with the pipeline's raw score and the
// document's freshness timestamp for tie-breaking.
type DocScore struct {
	Ref       types.DocRef
	Score     float64
	Freshness time.Time
}

// PendingDoc identifies a record whose embedding is missing or was
// invalidated by an update.
type PendingDoc struct {
	Ref  types.DocRef
	Text string // Composite embedding text
}

// Filters narrows pipeline results. Zero value means no filtering.
type Filters struct {
	Kinds       []types.DocKind   // Restrict to chunks and/or memories
	PathGlob    string            // GLOB over chunk file paths
	ChunkKinds  []types.ChunkKind // e.g. function, class
	MemoryClass types.MemoryClass
	Tags        []string // Any-of over chunk pattern tags
	Dependency  string   // Dependency-graph membership
}

// wantsKind reports whether a doc kind passes the Kinds filter.
func (f *Filters) wantsKind(k types.DocKind) bool {
	if f == nil || len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// QueryLogRecord is one telemetry row, scoped to a project and day.
type QueryLogRecord struct {
	QueryID     string // UUID per query
	ProjectID   string
	Day         string // YYYY-MM-DD
	Query       string
	ResultCount int
	LatencyMS   int64
}

// ProjectStatus summarizes a project partition for the status tool.
type ProjectStatus struct {
	Project         *types.Project
	Files           int
	Chunks          int
	EmbeddedChunks  int
	Memories        int
	PendingVectors  int
	IndexesReady    bool
	FusionAvailable bool
	LastIndexedAt   time.Time
}
