// Package planner answers search queries by fanning out up to four
// project-scoped retrieval pipelines (semantic, lexical, temporal,
// frequency) and fusing their rankings with weighted reciprocal rank
// fusion.
//
// Fusion runs in-process over whatever the pipelines return. When the
// fan-out comes back incomplete, because a pipeline failed, an index is
// still building, or the query embedding was dropped, the planner degrades
// to a first-seen precedence merge over the pipelines that did succeed. A
// query returns an error only when every pipeline it fanned out to failed.
//
// Code-search variants (implements, uses, pattern, similar) layer filter
// and query-expansion policy on the same pipelines. Access-count and
// telemetry side effects run after the response on a detached context.
package planner
