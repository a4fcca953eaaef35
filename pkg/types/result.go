package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocKind identifies which record kind a search result refers to.
type DocKind string

const (
	DocChunk  DocKind = "chunk"
	DocMemory DocKind = "memory"
)

// DocRef uniquely identifies a searchable record across both record kinds,
// rendered as "chunk:<id>" or "memory:<id>".
type DocRef struct {
	Kind DocKind
	ID   string
}

func (r DocRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ChunkRef builds a DocRef for a chunk row id.
func ChunkRef(id int64) DocRef {
	return DocRef{Kind: DocChunk, ID: strconv.FormatInt(id, 10)}
}

// MemoryRef builds a DocRef for a memory document id.
func MemoryRef(id string) DocRef {
	return DocRef{Kind: DocMemory, ID: id}
}

// ParseDocRef parses the string form of a DocRef.
func ParseDocRef(s string) (DocRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return DocRef{}, fmt.Errorf("malformed doc ref %q", s)
	}
	switch DocKind(kind) {
	case DocChunk, DocMemory:
		return DocRef{Kind: DocKind(kind), ID: id}, nil
	}
	return DocRef{}, fmt.Errorf("unknown doc kind %q", kind)
}

// SearchResult is a single ranked entry in a query response.
type SearchResult struct {
	Ref  DocRef
	Rank int // 1-based position in the fused result set

	// Scoring
	FusedScore    float64 // Weighted RRF score, or merge-order score in fallback
	SemanticScore float64 // Raw cosine similarity, 0 when the semantic pipeline did not see the doc

	// Payload
	Content   string
	Freshness time.Time

	// Chunk results only
	FilePath  string
	StartLine int
	EndLine   int
	ChunkKind ChunkKind
	Name      string

	// Memory results only
	MemoryName  string
	MemoryClass MemoryClass
}
