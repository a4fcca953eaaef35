// Package indexer drives the one-way indexing flow: scanner output is
// persisted as chunks, then every document missing an embedding vector is
// swept through the batched embedding provider. A non-blocking lock keeps
// runs single-flight per process.
package indexer
