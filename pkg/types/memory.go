package types

import (
	"errors"
	"time"
)

// MemoryClass distinguishes the two memory lifecycles: core memories are
// one-per-name singletons mutated by explicit updates; the event classes
// (working, insight, telemetry) are append-only and periodically compacted.
type MemoryClass string

const (
	MemoryCore      MemoryClass = "core"
	MemoryWorking   MemoryClass = "working"
	MemoryInsight   MemoryClass = "insight"
	MemoryTelemetry MemoryClass = "telemetry"
)

// CoreMemoryNames is the fixed set of core memory documents created when a
// project is initialized.
var CoreMemoryNames = []string{
	"architecture",
	"conventions",
	"decisions",
	"glossary",
}

// MemoryDocument is a durable, queryable knowledge record scoped to a project.
type MemoryDocument struct {
	ID        string
	ProjectID string
	Name      string // Singleton key for core memories, empty for events
	Class     MemoryClass
	Content   string

	// Retrieval signals
	Importance  float64 // 0..1, caller-assigned weight
	AccessCount int64
	Freshness   time.Time // Refreshed on every read and update

	// Version increments on every successful update of a core memory.
	// Updating also invalidates the stored embedding vector.
	Version int
}

// IsCore reports whether the document follows the singleton core lifecycle.
func (m *MemoryDocument) IsCore() bool {
	return m.Class == MemoryCore
}

// Validate performs structural validation of the document.
func (m *MemoryDocument) Validate() error {
	if m.ProjectID == "" {
		return errors.New("memory project id is required")
	}
	if m.Content == "" {
		return errors.New("memory content cannot be empty")
	}
	switch m.Class {
	case MemoryCore:
		if m.Name == "" {
			return errors.New("core memory requires a name")
		}
	case MemoryWorking, MemoryInsight, MemoryTelemetry:
	default:
		return errors.New("invalid memory class")
	}
	if m.Importance < 0 || m.Importance > 1 {
		return errors.New("importance must be between 0 and 1")
	}
	return nil
}
