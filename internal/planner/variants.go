package planner

import (
	"strings"

	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

// Variant selects a code-search policy layered on the same pipelines.
type Variant string

const (
	VariantNone       Variant = ""
	VariantImplements Variant = "implements" // Declarations matching the query
	VariantUses       Variant = "uses"       // Chunks whose file imports the dependency
	VariantPattern    Variant = "pattern"    // Chunks carrying a detected tag
	VariantSimilar    Variant = "similar"    // Pure semantic neighbors
)

// ValidVariant reports whether v is a known code-search variant.
func ValidVariant(v Variant) bool {
	switch v {
	case VariantNone, VariantImplements, VariantUses, VariantPattern, VariantSimilar:
		return true
	}
	return false
}

// synonyms expands pattern terms so a short query still matches the tag
// vocabulary and related prose. The table is fixed; expansion applies only
// to the pattern variant.
var synonyms = map[string][]string{
	"auth":        {"authentication", "authorization", "login"},
	"db":          {"database", "sql", "storage"},
	"http":        {"http-api", "rest", "endpoint", "handler"},
	"async":       {"concurrency", "goroutine", "channel"},
	"error":       {"error-handling", "exception", "failure"},
	"test":        {"testing", "assertion", "mock"},
	"log":         {"logging", "logger"},
	"config":      {"configuration", "settings", "env"},
	"serialize":   {"serialization", "marshal", "encode"},
	"concurrency": {"async", "parallel", "worker"},
}

// expandQuery appends fixed-table synonyms of each query term.
func expandQuery(query string) string {
	terms := strings.Fields(strings.ToLower(query))
	expanded := make([]string, 0, len(terms)*2)
	seen := make(map[string]bool)

	add := func(term string) {
		if !seen[term] {
			seen[term] = true
			expanded = append(expanded, term)
		}
	}
	for _, term := range terms {
		add(term)
		for _, syn := range synonyms[term] {
			add(syn)
		}
	}
	return strings.Join(expanded, " ")
}

// applyVariant rewrites the request's query and filters for its variant.
// Returns the effective query text and whether the two-pipeline fusion form
// (semantic + lexical only) should be used.
func applyVariant(req *Request, f *store.Filters) (query string, twoPipeline bool) {
	query = req.Query
	switch req.Variant {
	case VariantImplements:
		f.Kinds = []types.DocKind{types.DocChunk}
		f.ChunkKinds = []types.ChunkKind{types.ChunkFunction, types.ChunkClass}
		twoPipeline = true
	case VariantUses:
		f.Kinds = []types.DocKind{types.DocChunk}
		f.Dependency = strings.TrimSpace(req.Query)
		twoPipeline = true
	case VariantPattern:
		f.Kinds = []types.DocKind{types.DocChunk}
		f.Tags = strings.Fields(strings.ToLower(req.Query))
		query = expandQuery(req.Query)
		twoPipeline = true
	case VariantSimilar:
		// Pure semantic: the planner routes this to the vector mode path
	}
	return query, twoPipeline
}
