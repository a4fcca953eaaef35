// Package reranker provides best-effort reordering of a fused result page
// through an external rerank provider. It is strictly an enhancement: any
// provider failure returns the input order unchanged, and it never adds or
// removes results.
package reranker
