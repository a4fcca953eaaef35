package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/codemem/codemem/internal/embedder"
	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

// Mode selects which pipelines a query runs.
type Mode string

const (
	ModeFused    Mode = "fused" // Default: all pipelines, RRF ranking
	ModeVector   Mode = "vector"
	ModeText     Mode = "text"
	ModeTemporal Mode = "temporal"
)

// ValidMode reports whether m is a known query mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeFused, ModeVector, ModeText, ModeTemporal:
		return true
	}
	return false
}

const (
	// DefaultLimit is the result count when the caller does not specify one.
	DefaultLimit = 10
	// MaxLimit caps the result count.
	MaxLimit = 50

	// RecentWindow bounds the temporal pipeline.
	RecentWindow = 7 * 24 * time.Hour
	// MinAccessCount is the frequency pipeline's access floor.
	MinAccessCount = 3
	// poolFactor sizes the semantic candidate pool relative to the limit.
	poolFactor = 8

	sideEffectTimeout = 5 * time.Second
)

// Request is one search query.
type Request struct {
	ProjectID string
	Query     string
	Mode      Mode
	Limit     int
	Variant   Variant

	// Scope filters
	PathGlob    string
	MemoryClass types.MemoryClass
}

// Response is the ranked answer to one query.
type Response struct {
	QueryID string
	Results []types.SearchResult

	// Degraded is true when fused ranking could not run and results came
	// from the precedence merge, or when a pipeline was skipped.
	Degraded bool
	Took     time.Duration
}

// Reranker reorders a result page. Implementations must fail open: on any
// provider problem they return the input order unchanged.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []types.SearchResult, topK int) []types.SearchResult
}

// Planner answers queries by fanning out retrieval pipelines and fusing
// their rankings. Each call is a short-lived state machine: accept, embed,
// fan out, fuse, tie-break, truncate, rerank, respond. Read side effects
// (access counts, telemetry) run after the response, off the critical path.
type Planner struct {
	store    store.Store
	embedder embedder.Embedder
	reranker Reranker // Optional
	log      zerolog.Logger
}

func New(st store.Store, emb embedder.Embedder, rr Reranker, log zerolog.Logger) *Planner {
	return &Planner{
		store:    st,
		embedder: emb,
		reranker: rr,
		log:      log.With().Str("component", "planner").Logger(),
	}
}

// pipelineRun carries one pipeline's outcome through the fan-out.
type pipelineRun struct {
	hits []store.DocScore
	err  error
}

// Search executes one query.
func (p *Planner) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	queryID := uuid.NewString()

	mode, limit, err := normalize(&req)
	if err != nil {
		return nil, err
	}

	filters := &store.Filters{PathGlob: req.PathGlob, MemoryClass: req.MemoryClass}
	query, twoPipeline := applyVariant(&req, filters)
	if req.Variant == VariantSimilar {
		mode = ModeVector
	}

	wanted := pipelinesFor(mode, twoPipeline)
	degraded := false

	// Embed: the one suspension point before fan-out. In fused mode a
	// failed embedding drops the semantic pipeline and degrades; in vector
	// mode there is nothing left to run.
	var queryVec []float32
	if wanted[pipeSemantic] {
		queryVec, err = p.embedder.EmbedQuery(ctx, query)
		if err != nil {
			if mode == ModeVector {
				return nil, fmt.Errorf("query embedding failed: %w", err)
			}
			p.log.Warn().Str("query_id", queryID).Err(err).
				Msg("query embedding failed, dropping semantic pipeline")
			wanted[pipeSemantic] = false
			degraded = true
		}
	}

	runs := p.fanOut(ctx, req.ProjectID, query, queryVec, limit, filters, wanted)

	// Only total failure is an error; individual pipeline failures degrade.
	lists := make(map[pipeline][]store.DocScore, pipelineCount)
	var firstErr error
	ran, failed := 0, 0
	for pipe, run := range runs {
		if run == nil {
			continue
		}
		ran++
		if run.err != nil {
			failed++
			if firstErr == nil {
				firstErr = run.err
			}
			degraded = true
			p.log.Warn().Str("query_id", queryID).Stringer("pipeline", pipe).
				Err(run.err).Msg("pipeline failed, continuing degraded")
			continue
		}
		lists[pipe] = run.hits
	}
	if ran == 0 {
		return nil, fmt.Errorf("no pipeline available for mode %s", mode)
	}
	if failed == ran {
		return nil, fmt.Errorf("all pipelines failed: %w", firstErr)
	}

	fused := p.rank(mode, twoPipeline, lists, degraded, limit)

	results, err := p.hydrate(ctx, req.ProjectID, fused)
	if err != nil {
		return nil, err
	}

	if p.reranker != nil && mode == ModeFused && len(results) >= 2 {
		results = p.reranker.Rerank(ctx, req.Query, results, len(results))
		for i := range results {
			results[i].Rank = i + 1
		}
	}

	resp := &Response{
		QueryID:  queryID,
		Results:  results,
		Degraded: degraded,
		Took:     time.Since(started),
	}
	p.dispatchSideEffects(req, queryID, results, resp.Took)
	return resp, nil
}

func normalize(req *Request) (Mode, int, error) {
	if strings.TrimSpace(req.Query) == "" && req.Mode != ModeTemporal {
		return "", 0, errors.New("query text is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeFused
	}
	if !ValidMode(mode) {
		return "", 0, fmt.Errorf("unknown query mode %q", req.Mode)
	}
	if !ValidVariant(req.Variant) {
		return "", 0, fmt.Errorf("unknown search variant %q", req.Variant)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return mode, limit, nil
}

// pipelinesFor maps a mode to the pipelines it fans out to.
func pipelinesFor(mode Mode, twoPipeline bool) map[pipeline]bool {
	switch mode {
	case ModeVector:
		return map[pipeline]bool{pipeSemantic: true}
	case ModeText:
		return map[pipeline]bool{pipeLexical: true}
	case ModeTemporal:
		return map[pipeline]bool{pipeTemporal: true}
	}
	if twoPipeline {
		return map[pipeline]bool{pipeSemantic: true, pipeLexical: true}
	}
	return map[pipeline]bool{
		pipeSemantic:  true,
		pipeLexical:   true,
		pipeTemporal:  true,
		pipeFrequency: true,
	}
}

// fanOut runs the wanted pipelines concurrently, all scoped to the project.
func (p *Planner) fanOut(ctx context.Context, projectID, query string, queryVec []float32, limit int, filters *store.Filters, wanted map[pipeline]bool) map[pipeline]*pipelineRun {
	runs := make(map[pipeline]*pipelineRun, pipelineCount)
	for pipe := range wanted {
		if wanted[pipe] {
			runs[pipe] = &pipelineRun{}
		}
	}

	var g errgroup.Group
	if run := runs[pipeSemantic]; run != nil {
		g.Go(func() error {
			run.hits, run.err = p.store.SearchVector(ctx, projectID, queryVec, limit*poolFactor, 2*limit, filters)
			return nil
		})
	}
	if run := runs[pipeLexical]; run != nil {
		g.Go(func() error {
			run.hits, run.err = p.store.SearchText(ctx, projectID, query, 2*limit, filters)
			return nil
		})
	}
	if run := runs[pipeTemporal]; run != nil {
		g.Go(func() error {
			run.hits, run.err = p.store.SearchRecent(ctx, projectID, RecentWindow, 2*limit, filters)
			return nil
		})
	}
	if run := runs[pipeFrequency]; run != nil {
		g.Go(func() error {
			run.hits, run.err = p.store.SearchFrequent(ctx, projectID, MinAccessCount, limit, filters)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

// rank produces the final ordering. Fused mode combines the pipeline
// rankings with weighted RRF; when the fan-out came back incomplete the
// precedence merge answers instead, trading rank quality for availability.
// Single pipeline modes keep the pipeline's own order.
func (p *Planner) rank(mode Mode, twoPipeline bool, lists map[pipeline][]store.DocScore, incomplete bool, limit int) []fusedDoc {
	if mode != ModeFused {
		var pipe pipeline
		switch mode {
		case ModeVector:
			pipe = pipeSemantic
		case ModeText:
			pipe = pipeLexical
		case ModeTemporal:
			pipe = pipeTemporal
		}
		hits := lists[pipe]
		if len(hits) > limit {
			hits = hits[:limit]
		}
		out := make([]fusedDoc, len(hits))
		for i, hit := range hits {
			out[i] = fusedDoc{ref: hit.Ref, fused: hit.Score, freshness: hit.Freshness}
			if pipe == pipeSemantic {
				out[i].semantic = hit.Score
			}
		}
		return out
	}

	if incomplete {
		return fallbackMerge(lists, limit)
	}
	weights := fourWeights
	if twoPipeline {
		weights = twoWeights
	}
	return fuseRRF(lists, weights, limit)
}

// hydrate loads payloads for the ranked refs. A ref that vanished between
// ranking and hydration is skipped.
func (p *Planner) hydrate(ctx context.Context, projectID string, fused []fusedDoc) ([]types.SearchResult, error) {
	results := make([]types.SearchResult, 0, len(fused))
	for _, doc := range fused {
		r, err := p.store.GetResult(ctx, projectID, doc.ref)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load result %s: %w", doc.ref, err)
		}
		r.Rank = len(results) + 1
		r.FusedScore = doc.fused
		r.SemanticScore = doc.semantic
		results = append(results, *r)
	}
	return results, nil
}

// dispatchSideEffects bumps access counters and records telemetry after the
// response is prepared, detached from the request context so caller
// cancellation cannot interrupt them. Failures are logged, never surfaced.
func (p *Planner) dispatchSideEffects(req Request, queryID string, results []types.SearchResult, took time.Duration) {
	refs := make([]types.DocRef, len(results))
	for i, r := range results {
		refs[i] = r.Ref
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if err := p.store.TouchDocs(ctx, req.ProjectID, refs); err != nil {
			p.log.Warn().Str("query_id", queryID).Err(err).Msg("access count update failed")
		}
		rec := store.QueryLogRecord{
			QueryID:     queryID,
			ProjectID:   req.ProjectID,
			Day:         time.Now().UTC().Format("2006-01-02"),
			Query:       req.Query,
			ResultCount: len(results),
			LatencyMS:   took.Milliseconds(),
		}
		if err := p.store.AppendQueryLog(ctx, rec); err != nil {
			p.log.Warn().Str("query_id", queryID).Err(err).Msg("query log append failed")
		}
	}()
}
