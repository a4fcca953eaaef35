// Package embedder generates vector embeddings for chunks, memory documents,
// and search queries via pluggable providers (Jina AI, OpenAI, or a
// deterministic local fallback).
//
// Document and query embeddings share one dimensionality per provider so
// indexed vectors and query vectors are directly comparable. Batches are
// bounded at MaxBatchSize texts per provider call and split transparently.
//
// A provider returning fewer or more vectors than requested is never silently
// realigned: the affected input positions are flagged in BatchResult.Failed
// and reported as a dimension mismatch, so malformed items can be excluded
// from the index instead of corrupting similarity scores with zero vectors.
//
// Auth and invalid-model rejections are permanent and surface immediately
// with the responsible environment variable named; rate limits and 5xx
// responses are retried with exponential backoff.
package embedder
