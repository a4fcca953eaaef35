package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// MaxChunkLines bounds a single chunk; oversized declarations are split at
// this boundary so embeddings stay within model limits.
const MaxChunkLines = 400

// declRule detects the start of a top-level declaration for one family of
// languages. The name group indexes into the regexp submatches.
type declRule struct {
	kind    types.ChunkKind
	pattern *regexp.Regexp
	name    int // Submatch index holding the declared name
}

// langRules maps a file extension to its declaration rules, tried in order
// per line. Languages without rules produce a single module chunk.
var langRules = map[string][]declRule{
	".go": {
		{types.ChunkFunction, regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*\(`), 1},
		{types.ChunkClass, regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+(?:struct|interface)\b`), 1},
	},
	".js": jsRules, ".jsx": jsRules, ".ts": jsRules, ".tsx": jsRules, ".mjs": jsRules,
	".py": {
		{types.ChunkFunction, regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`), 1},
		{types.ChunkClass, regexp.MustCompile(`^class\s+([A-Za-z_]\w*)\b`), 1},
	},
	".rb": {
		{types.ChunkFunction, regexp.MustCompile(`^def\s+([A-Za-z_]\w*[?!]?)`), 1},
		{types.ChunkClass, regexp.MustCompile(`^(?:class|module)\s+([A-Z]\w*)`), 1},
	},
	".java": javaRules, ".cs": javaRules, ".kt": javaRules,
	".rs": {
		{types.ChunkFunction, regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_]\w*)`), 1},
		{types.ChunkClass, regexp.MustCompile(`^(?:pub\s+)?(?:struct|enum|trait|impl)\s+([A-Za-z_]\w*)`), 1},
	},
}

var jsRules = []declRule{
	{types.ChunkFunction, regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`), 1},
	{types.ChunkClass, regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`), 1},
	{types.ChunkFunction, regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`), 1},
}

var javaRules = []declRule{
	{types.ChunkClass, regexp.MustCompile(`^\s*(?:public\s+|private\s+|internal\s+)?(?:final\s+|abstract\s+|static\s+|sealed\s+)*(?:class|interface|enum|record)\s+([A-Za-z_]\w*)`), 1},
}

// importPatterns extract dependency names per extension family.
var importPatterns = map[string]*regexp.Regexp{
	".go":   regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[A-Za-z_]\w*\s+)?"([^"]+)"`),
	".js":   jsImport, ".jsx": jsImport, ".ts": jsImport, ".tsx": jsImport, ".mjs": jsImport,
	".py":   regexp.MustCompile(`(?m)^(?:from\s+([.\w]+)\s+import|import\s+([.\w]+))`),
	".rb":   regexp.MustCompile(`(?m)^require(?:_relative)?\s+['"]([^'"]+)['"]`),
	".rs":   regexp.MustCompile(`(?m)^use\s+([\w:]+)`),
	".java": regexp.MustCompile(`(?m)^import\s+(?:static\s+)?([\w.]+);`),
}

var jsImport = regexp.MustCompile(`(?m)(?:from\s+|require\()\s*['"]([^'"]+)['"]`)

// Chunker splits source text into bounded semantic chunks.
type Chunker struct {
	tags []TagRule
}

// NewChunker creates a Chunker with the default pattern tag rules.
func NewChunker() *Chunker {
	return &Chunker{tags: DefaultTagRules}
}

// ChunkSource splits one file's content into chunks. Content before the first
// detected declaration (package clause, imports, constants) becomes a module
// chunk; files in languages without declaration rules become a single module
// chunk.
func (c *Chunker) ChunkSource(projectID, relPath, content string, modTime time.Time) []types.Chunk {
	ext := strings.ToLower(filepath.Ext(relPath))
	rules := langRules[ext]
	lines := strings.Split(content, "\n")
	deps := extractDependencies(ext, content)

	type boundary struct {
		line int // 0-based
		kind types.ChunkKind
		name string
		sig  string
	}
	var bounds []boundary
	for i, line := range lines {
		for _, r := range rules {
			if m := r.pattern.FindStringSubmatch(line); m != nil {
				bounds = append(bounds, boundary{
					line: i,
					kind: r.kind,
					name: m[r.name],
					sig:  strings.TrimSpace(line),
				})
				break
			}
		}
	}

	var chunks []types.Chunk
	emit := func(start, end int, kind types.ChunkKind, name, sig string) {
		// Split oversized regions at the line bound, keeping the declared
		// identity on every piece.
		for s := start; s < end; s += MaxChunkLines {
			e := min(s+MaxChunkLines, end)
			body := strings.Join(lines[s:e], "\n")
			if strings.TrimSpace(body) == "" {
				continue
			}
			ch := types.Chunk{
				ProjectID:    projectID,
				FilePath:     relPath,
				StartLine:    s + 1,
				EndLine:      e,
				Kind:         kind,
				Name:         name,
				Signature:    sig,
				Content:      body,
				Dependencies: deps,
				LastModified: modTime,
			}
			ch.ComputeSize()
			ch.PatternTags = ApplyTagRules(c.tags, body)
			chunks = append(chunks, ch)
		}
	}

	if len(bounds) == 0 {
		emit(0, len(lines), types.ChunkModule, moduleName(relPath), "")
		return chunks
	}

	if bounds[0].line > 0 {
		emit(0, bounds[0].line, types.ChunkModule, moduleName(relPath), "")
	}
	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].line
		}
		emit(b.line, end, b.kind, b.name, b.sig)
	}
	return chunks
}

// moduleName derives a stable name for module-level chunks from the file name.
func moduleName(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func extractDependencies(ext, content string) []string {
	re := importPatterns[ext]
	if re == nil {
		return nil
	}
	seen := make(map[string]bool)
	var deps []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		for _, g := range m[1:] {
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			deps = append(deps, g)
		}
	}
	return deps
}
