// Package store provides SQLite-based persistence for indexed chunks and
// memory documents, and serves the retrieval pipelines the query planner
// fans out to.
//
// The store manages:
//   - Project records (the isolation boundary for every operation)
//   - File index timestamps for incremental scans
//   - Code chunks with inline embedding vectors
//   - Memory documents across both lifecycles (singleton core, append-only events)
//   - FTS5 full-text indexes with a retrying creation lifecycle
//   - Query telemetry and its daily compaction
//
// # Search Indexes
//
// The FTS5 tables and their sync triggers are not part of the schema
// migrations. They are created by EnsureIndexes, which treats "already
// exists" as success and retries failed creations in the background at
// fixed delays. Pipelines that need an index that has not landed yet
// return IndexNotReady; the planner degrades instead of failing the query.
//
// # Retrieval Pipelines
//
// Four project-scoped pipelines feed fusion:
//
//	vector   cosine similarity over stored embeddings
//	text     FTS5 BM25 over names, signatures, and content
//	recency  documents touched inside a time window
//	access   documents at or above an access-count floor
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 with the
// sqlite-vec extension: distance is computed in SQL and FusionAvailable
// reports true.
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//
// Pure Go build (default or purego tag) uses modernc.org/sqlite: cosine
// similarity runs in Go over the same stored vectors and FusionAvailable
// reports false in status output. Ranking behaves identically in both
// builds.
//
//	CGO_ENABLED=0 go build -tags "purego"
package store
