package planner

import (
	"sort"
	"time"

	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

// rrfK is the rank-smoothing constant for reciprocal rank fusion.
const rrfK = 60

// pipeline identifies one retrieval signal. Ordinal order is also the
// precedence order of the fallback merge.
type pipeline int

const (
	pipeSemantic pipeline = iota
	pipeLexical
	pipeTemporal
	pipeFrequency
	pipelineCount
)

func (p pipeline) String() string {
	switch p {
	case pipeSemantic:
		return "semantic"
	case pipeLexical:
		return "lexical"
	case pipeTemporal:
		return "temporal"
	case pipeFrequency:
		return "frequency"
	}
	return "unknown"
}

// fourWeights is the fusion weighting when all four pipelines run.
var fourWeights = map[pipeline]float64{
	pipeSemantic:  0.4,
	pipeLexical:   0.3,
	pipeTemporal:  0.2,
	pipeFrequency: 0.1,
}

// twoWeights is the weighting for the semantic+lexical form used by the
// code-search variants.
var twoWeights = map[pipeline]float64{
	pipeSemantic: 0.7,
	pipeLexical:  0.3,
}

// fusedDoc is one document's accumulated fusion state.
type fusedDoc struct {
	ref       types.DocRef
	fused     float64
	semantic  float64 // Raw similarity, 0 when the semantic pipeline missed it
	freshness time.Time
}

// fuseRRF combines the per-pipeline rankings with weighted reciprocal rank
// fusion: a document at rank r in pipeline p contributes weight(p)/(k+r).
// Ties on the fused score break by raw semantic score, then freshness, then
// ref string, so identical inputs always produce identical orderings.
func fuseRRF(lists map[pipeline][]store.DocScore, weights map[pipeline]float64, limit int) []fusedDoc {
	acc := make(map[types.DocRef]*fusedDoc)

	for p := pipeSemantic; p < pipelineCount; p++ {
		weight, ok := weights[p]
		if !ok {
			continue
		}
		for i, hit := range lists[p] {
			rank := i + 1
			doc, ok := acc[hit.Ref]
			if !ok {
				doc = &fusedDoc{ref: hit.Ref, freshness: hit.Freshness}
				acc[hit.Ref] = doc
			}
			doc.fused += weight / float64(rrfK+rank)
			if p == pipeSemantic {
				doc.semantic = hit.Score
			}
			if hit.Freshness.After(doc.freshness) {
				doc.freshness = hit.Freshness
			}
		}
	}

	fused := make([]fusedDoc, 0, len(acc))
	for _, doc := range acc {
		fused = append(fused, *doc)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].fused != fused[j].fused {
			return fused[i].fused > fused[j].fused
		}
		if fused[i].semantic != fused[j].semantic {
			return fused[i].semantic > fused[j].semantic
		}
		if !fused[i].freshness.Equal(fused[j].freshness) {
			return fused[i].freshness.After(fused[j].freshness)
		}
		return fused[i].ref.String() < fused[j].ref.String()
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

// fallbackMerge degrades gracefully when fused ranking cannot run: pipelines
// are concatenated in precedence order (semantic, then lexical, then
// temporal), deduplicated by ref, then truncated. It returns results
// whenever any pipeline did.
func fallbackMerge(lists map[pipeline][]store.DocScore, limit int) []fusedDoc {
	seen := make(map[types.DocRef]bool)
	merged := make([]fusedDoc, 0, limit)

	for _, p := range []pipeline{pipeSemantic, pipeLexical, pipeTemporal} {
		for _, hit := range lists[p] {
			if seen[hit.Ref] {
				continue
			}
			seen[hit.Ref] = true
			doc := fusedDoc{ref: hit.Ref, freshness: hit.Freshness}
			if p == pipeSemantic {
				doc.semantic = hit.Score
			}
			// Merge-order score: strictly decreasing with position so the
			// response still carries a usable relative ordering
			doc.fused = 1.0 / float64(len(merged)+1)
			merged = append(merged, doc)
			if len(merged) == limit {
				return merged
			}
		}
	}
	return merged
}
