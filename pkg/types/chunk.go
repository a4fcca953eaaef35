package types

import (
	"errors"
	"fmt"
	"time"
)

// ChunkKind classifies the semantic unit a chunk was cut at.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkClass    ChunkKind = "class"
	ChunkModule   ChunkKind = "module"
	ChunkOther    ChunkKind = "other"
)

// Chunk is a bounded, independently retrievable unit of source content.
// A chunk belongs to exactly one (ProjectID, FilePath) pair.
type Chunk struct {
	// Identification
	ID        int64
	ProjectID string
	FilePath  string // Relative to project root

	// Location
	StartLine int
	EndLine   int

	// Content
	Kind      ChunkKind
	Name      string // Declared name, empty for module-level chunks
	Signature string // Declaration line, e.g. "func (s *Server) Start(ctx context.Context) error"
	Content   string
	Size      int // len(Content) in bytes

	// Heuristic metadata
	PatternTags  []string // e.g. "error-handling", "async"
	Dependencies []string // Imported/required modules referenced by the file

	LastModified time.Time
}

// ComputeSize records the content length. Chunks smaller than the configured
// minimum are excluded from the index; a chunk of exactly the minimum is kept.
func (c *Chunk) ComputeSize() int {
	c.Size = len(c.Content)
	return c.Size
}

// ValidKind reports whether the chunk kind is one of the known values.
func (c *Chunk) ValidKind() bool {
	switch c.Kind {
	case ChunkFunction, ChunkClass, ChunkModule, ChunkOther:
		return true
	}
	return false
}

// Validate performs structural validation of the chunk.
func (c *Chunk) Validate() error {
	if c.ProjectID == "" {
		return errors.New("chunk project id is required")
	}
	if c.FilePath == "" {
		return errors.New("chunk file path is required")
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("chunk line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("chunk start line must not exceed end line")
	}
	if !c.ValidKind() {
		return fmt.Errorf("invalid chunk kind %q", c.Kind)
	}
	return nil
}

// EmbeddingText builds the composite text that is embedded for this chunk:
// the signature and content plus file/kind/tag metadata, so semantically
// related queries match on more than the raw source.
func (c *Chunk) EmbeddingText() string {
	text := c.Signature
	if text != "" {
		text += "\n"
	}
	text += c.Content
	text += fmt.Sprintf("\n\nfile: %s\nkind: %s", c.FilePath, c.Kind)
	if len(c.PatternTags) > 0 {
		text += "\ntags:"
		for _, tag := range c.PatternTags {
			text += " " + tag
		}
	}
	return text
}
