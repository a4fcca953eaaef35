package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// Project is the isolation boundary for all stored records. Every store
// operation is filtered by the project identifier; no cross-project read or
// write is possible through the public API.
type Project struct {
	ID          string // Deterministic hash of the absolute root path
	RootPath    string
	DisplayName string
	CreatedAt   time.Time
}

// ProjectIDLen is the hex length of a derived project identifier.
const ProjectIDLen = 16

// DeriveProjectID computes the deterministic project identifier for a root
// path. The path is cleaned and made absolute first so the same project
// always resolves to the same partition regardless of how it was addressed.
func DeriveProjectID(rootPath string) string {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		abs = filepath.Clean(rootPath)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:ProjectIDLen]
}

// NewProject builds a project record for a root path, deriving the id and
// using the directory name as the display name.
func NewProject(rootPath string) *Project {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		abs = filepath.Clean(rootPath)
	}
	return &Project{
		ID:          DeriveProjectID(abs),
		RootPath:    abs,
		DisplayName: filepath.Base(abs),
		CreatedAt:   time.Now().UTC(),
	}
}
