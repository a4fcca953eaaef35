// Package scanner walks project files and splits them into bounded semantic
// chunks for embedding and search.
//
// The walker applies include/exclude glob patterns, skips files whose
// modification time is not newer than their last indexed time, and records
// per-file errors instead of aborting the scan.
//
// Chunks are cut at declaration boundaries detected by a small per-extension
// rule set (functions and classes for the common languages, one module chunk
// for everything else). Each chunk is tagged by the declarative pattern rule
// table in patterns.go and carries the file's import dependencies.
//
// # Basic Usage
//
//	s := scanner.New(st, logger)
//	res, err := s.Scan(ctx, project, scanner.Options{
//	    Include:      []string{"**/*.go"},
//	    MinChunkSize: 80,
//	})
//
// Chunks smaller than MinChunkSize bytes are excluded; a chunk of exactly
// MinChunkSize is kept.
package scanner
