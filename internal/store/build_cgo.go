//go:build sqlite_vec
// +build sqlite_vec

package store

// This file is compiled when building with CGO and the sqlite_vec tag.
// It loads the sqlite-vec extension so vector distance is computed at the
// database layer and the native fused ranking path is available.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers vec_distance_cosine and friends on every new connection
	sqlitevec.Auto()
}

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
