package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/codemem/codemem/pkg/types"
)

const (
	// DefaultMinChunkSize is the byte threshold below which chunks are
	// excluded from the index.
	DefaultMinChunkSize = 50

	// maxFileBytes guards against indexing huge generated files.
	maxFileBytes = 1 << 20
)

// defaultExcludes are always applied on top of caller excludes.
var defaultExcludes = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"**/*.min.js",
}

// Options controls a scan.
type Options struct {
	Include      []string // Glob patterns relative to root; empty means everything
	Exclude      []string // Glob patterns relative to root
	MinChunkSize int      // Bytes; chunks below this are dropped
	Force        bool     // Re-chunk files even if unchanged since last index
	Workers      int      // Concurrent file workers (default: NumCPU)
}

// FileError records a file that could not be scanned. Unreadable or
// unparsable files are skipped, never fatal.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) String() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Result summarizes a scan.
type Result struct {
	Chunks         []types.Chunk
	FilesProcessed int
	FilesSkipped   int
	Errors         []FileError
}

// IndexState answers when a file was last indexed, so unchanged files can be
// skipped. The second return is false for files never seen before.
type IndexState interface {
	LastIndexedAt(ctx context.Context, projectID, relPath string) (time.Time, bool, error)
}

// Scanner walks a project tree and produces chunks.
type Scanner struct {
	chunker *Chunker
	state   IndexState
	log     zerolog.Logger
}

// New creates a Scanner. state may be nil, in which case every file is
// treated as new.
func New(state IndexState, log zerolog.Logger) *Scanner {
	return &Scanner{
		chunker: NewChunker(),
		state:   state,
		log:     log.With().Str("component", "scanner").Logger(),
	}
}

// Scan walks the project root and returns chunks for all matching files.
func (s *Scanner) Scan(ctx context.Context, project *types.Project, opts Options) (*Result, error) {
	if project == nil || project.RootPath == "" {
		return nil, fmt.Errorf("scan: project root is required")
	}
	if opts.MinChunkSize <= 0 {
		opts.MinChunkSize = DefaultMinChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	include, exclude, err := compileGlobs(opts)
	if err != nil {
		return nil, err
	}

	files, skipped, walkErrs, err := s.discoverFiles(ctx, project, include, exclude, opts.Force)
	if err != nil {
		return nil, err
	}

	res := &Result{
		FilesSkipped: skipped,
		Errors:       walkErrs,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, relPath := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := s.scanFile(project, relPath, opts.MinChunkSize)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, FileError{Path: relPath, Err: err})
				s.log.Warn().Str("file", relPath).Err(err).Msg("file skipped")
				return nil
			}
			res.FilesProcessed++
			res.Chunks = append(res.Chunks, chunks...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// discoverFiles collects candidate relative paths, applying globs and the
// modification-time skip.
func (s *Scanner) discoverFiles(ctx context.Context, project *types.Project, include, exclude []glob.Glob, force bool) ([]string, int, []FileError, error) {
	var (
		files   []string
		skipped int
		ferrs   []FileError
	)

	err := filepath.WalkDir(project.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Record and continue; a missing subtree is not fatal.
			rel, relErr := filepath.Rel(project.RootPath, path)
			if relErr != nil {
				rel = path
			}
			ferrs = append(ferrs, FileError{Path: rel, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(project.RootPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || matchAny(exclude, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if matchAny(exclude, rel) {
			return nil
		}
		if len(include) > 0 && !matchAny(include, rel) {
			return nil
		}

		if !force && s.state != nil {
			info, err := d.Info()
			if err == nil {
				last, seen, stateErr := s.state.LastIndexedAt(ctx, project.ID, rel)
				if stateErr == nil && seen && !info.ModTime().After(last) {
					skipped++
					return nil
				}
			}
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("walk %s: %w", project.RootPath, err)
	}
	return files, skipped, ferrs, nil
}

// scanFile reads and chunks a single file.
func (s *Scanner) scanFile(project *types.Project, relPath string, minChunkSize int) ([]types.Chunk, error) {
	absPath := filepath.Join(project.RootPath, filepath.FromSlash(relPath))

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxFileBytes)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, fmt.Errorf("binary file")
	}

	chunks := s.chunker.ChunkSource(project.ID, relPath, string(content), info.ModTime())

	kept := chunks[:0]
	for _, c := range chunks {
		if c.Size < minChunkSize {
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

func compileGlobs(opts Options) ([]glob.Glob, []glob.Glob, error) {
	var include []glob.Glob
	for _, p := range opts.Include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		include = append(include, g)
	}
	var exclude []glob.Glob
	for _, p := range append(append([]string{}, defaultExcludes...), opts.Exclude...) {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		exclude = append(exclude, g)
	}
	return include, exclude, nil
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
