package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// retryDelays are the fixed background retry delays applied when index
// creation fails because the store has not finished provisioning. Retries
// never block foreground operations.
var retryDelays = []time.Duration{30 * time.Second, 120 * time.Second}

// IndexDef is a named, store-level search index. Creation is idempotent and
// asynchronous from the caller's point of view: "already exists" is success,
// and a failed creation is retried in the background.
type IndexDef struct {
	Name   string
	Kind   string // "text" or "vector"
	Create []string
	Drop   []string
}

// searchIndexes are the text indexes the lexical pipeline depends on.
// Free-text columns live in analyzed FTS tables; the project id stays on
// the base tables and is matched exactly via join, never through an
// analyzed column.
var searchIndexes = []IndexDef{
	{
		Name: "chunks_text",
		Kind: "text",
		Create: []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
				name, signature, content,
				content='chunks',
				content_rowid='id'
			)`,
			`CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON chunks BEGIN
				INSERT INTO chunks_fts(rowid, name, signature, content)
				VALUES (new.id, new.name, new.signature, new.content);
			END`,
			`CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, name, signature, content)
				VALUES ('delete', old.id, old.name, old.signature, old.content);
			END`,
			`CREATE TRIGGER IF NOT EXISTS chunks_fts_au AFTER UPDATE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, name, signature, content)
				VALUES ('delete', old.id, old.name, old.signature, old.content);
				INSERT INTO chunks_fts(rowid, name, signature, content)
				VALUES (new.id, new.name, new.signature, new.content);
			END`,
			`INSERT INTO chunks_fts(chunks_fts) VALUES ('rebuild')`,
		},
		Drop: []string{
			`DROP TRIGGER IF EXISTS chunks_fts_au`,
			`DROP TRIGGER IF EXISTS chunks_fts_ad`,
			`DROP TRIGGER IF EXISTS chunks_fts_ai`,
			`DROP TABLE IF EXISTS chunks_fts`,
		},
	},
	{
		Name: "memories_text",
		Kind: "text",
		Create: []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
				name, content,
				content='memories',
				content_rowid='id'
			)`,
			`CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, name, content)
				VALUES (new.id, new.name, new.content);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, name, content)
				VALUES ('delete', old.id, old.name, old.content);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, name, content)
				VALUES ('delete', old.id, old.name, old.content);
				INSERT INTO memories_fts(rowid, name, content)
				VALUES (new.id, new.name, new.content);
			END`,
			`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`,
		},
		Drop: []string{
			`DROP TRIGGER IF EXISTS memories_fts_au`,
			`DROP TRIGGER IF EXISTS memories_fts_ad`,
			`DROP TRIGGER IF EXISTS memories_fts_ai`,
			`DROP TABLE IF EXISTS memories_fts`,
		},
	},
}

// vectorIndexes back the semantic pipeline's candidate scan. Both builds
// read the embedding column directly; the partial index restricts the scan
// to embedded rows in the pipeline's freshness order. A vec0 virtual table
// is not used because the embedding dimension is chosen by the provider at
// runtime, after the schema exists.
var vectorIndexes = []IndexDef{
	{
		Name: "chunks_vector",
		Kind: "vector",
		Create: []string{
			`CREATE INDEX IF NOT EXISTS idx_chunks_embedded
				ON chunks(project_id, freshness DESC)
				WHERE embedding IS NOT NULL`,
		},
		Drop: []string{
			`DROP INDEX IF EXISTS idx_chunks_embedded`,
		},
	},
	{
		Name: "memories_vector",
		Kind: "vector",
		Create: []string{
			`CREATE INDEX IF NOT EXISTS idx_memories_embedded
				ON memories(project_id, freshness DESC)
				WHERE embedding IS NOT NULL`,
		},
		Drop: []string{
			`DROP INDEX IF EXISTS idx_memories_embedded`,
		},
	},
}

// allIndexes returns every definition the lifecycle manages, text and
// vector alike.
func allIndexes() []IndexDef {
	defs := make([]IndexDef, 0, len(searchIndexes)+len(vectorIndexes))
	defs = append(defs, searchIndexes...)
	defs = append(defs, vectorIndexes...)
	return defs
}

// indexTracker caches which indexes have been ensured and owns the
// background retry schedule.
type indexTracker struct {
	mu      sync.Mutex
	ensured map[string]bool
	timers  []*time.Timer
}

func newIndexTracker() *indexTracker {
	return &indexTracker{ensured: make(map[string]bool)}
}

func (t *indexTracker) isReady(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensured[name]
}

func (t *indexTracker) allReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, def := range allIndexes() {
		if !t.ensured[def.Name] {
			return false
		}
	}
	return true
}

func (t *indexTracker) markReady(name string, ready bool) {
	t.mu.Lock()
	t.ensured[name] = ready
	t.mu.Unlock()
}

func (t *indexTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
}

// EnsureIndexes creates every search index the pipelines depend on.
// Idempotent: an "already exists" response is success. A creation failure
// schedules background retries at the fixed delays and does not block or
// fail foreground operations; pipelines report IndexNotReady until the
// retry succeeds.
func (s *SQLiteStore) EnsureIndexes(ctx context.Context) error {
	var firstErr error
	for _, def := range allIndexes() {
		if s.indexes.isReady(def.Name) {
			continue
		}
		if err := s.createIndex(ctx, def); err != nil {
			s.log.Warn().Str("index", def.Name).Err(err).Msg("index creation failed, scheduling retry")
			s.scheduleRetry(def, 0)
			if firstErr == nil {
				firstErr = fmt.Errorf("index %s: %w", def.Name, types.ErrIndexNotReady)
			}
			continue
		}
		s.indexes.markReady(def.Name, true)
	}
	return firstErr
}

// createIndex runs one definition's statements, treating duplicates as
// success.
func (s *SQLiteStore) createIndex(ctx context.Context, def IndexDef) error {
	for _, stmt := range def.Create {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return err
		}
	}
	return nil
}

// scheduleRetry arms the next background retry for an index definition.
func (s *SQLiteStore) scheduleRetry(def IndexDef, attempt int) {
	if attempt >= len(retryDelays) {
		return
	}
	s.indexes.mu.Lock()
	timer := time.AfterFunc(retryDelays[attempt], func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.createIndex(ctx, def); err != nil {
			s.log.Warn().Str("index", def.Name).Int("attempt", attempt+1).Err(err).
				Msg("background index retry failed")
			s.scheduleRetry(def, attempt+1)
			return
		}
		s.indexes.markReady(def.Name, true)
		s.log.Info().Str("index", def.Name).Msg("index ready after background retry")
	})
	s.indexes.timers = append(s.indexes.timers, timer)
	s.indexes.mu.Unlock()
}

// RebuildIndexes drops and recreates every search index. Used when field
// mappings change between releases.
func (s *SQLiteStore) RebuildIndexes(ctx context.Context) error {
	for _, def := range allIndexes() {
		s.indexes.markReady(def.Name, false)
		for _, stmt := range def.Drop {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop index %s: %w", def.Name, err)
			}
		}
	}
	return s.EnsureIndexes(ctx)
}
