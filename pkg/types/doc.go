// Package types defines the shared data model for codemem: source chunks,
// memory documents, project partitions, search results, and the error
// taxonomy surfaced to callers.
//
// Types here are plain data with validation; behavior lives in the internal
// packages that produce and consume them.
package types
