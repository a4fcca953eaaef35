package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codemem/codemem/pkg/types"
)

// SQLiteStore implements Store on a single SQLite database file. One store
// holds every project partition; all queries filter by project id.
type SQLiteStore struct {
	db      *sql.DB
	log     zerolog.Logger
	indexes *indexTracker
}

// openDatabase opens the SQLite database with the settings every store
// instance needs.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked during the indexing write burst
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// New opens the store, applies migrations, and ensures the search indexes.
// An index that cannot be created yet does not fail startup; it is retried
// in the background and the pipelines that need it report not-ready until
// it lands.
func New(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		log:     log.With().Str("component", "store").Logger(),
		indexes: newIndexTracker(),
	}
	if err := s.EnsureIndexes(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("search indexes not ready at startup")
	}
	return s, nil
}

// Close releases the database and stops pending index retries.
func (s *SQLiteStore) Close() error {
	s.indexes.stop()
	return s.db.Close()
}

// FusionAvailable reports whether this build computes vector distance
// inside SQL. Surfaced through status reporting; ranking runs the same
// weighted fusion either way.
func (s *SQLiteStore) FusionAvailable() bool {
	return VectorExtensionAvailable
}

// --- Project operations ---

// EnsureProject inserts the project record if it does not exist. Existing
// records keep their original created_at and display name.
func (s *SQLiteStore) EnsureProject(ctx context.Context, project *types.Project) error {
	if project == nil || project.ID == "" {
		return errors.New("project id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, root_path, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		project.ID, project.RootPath, project.DisplayName, project.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to ensure project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, root_path, display_name, created_at
		FROM projects WHERE id = ?`, projectID)

	var p types.Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.RootPath, &p.DisplayName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// --- File tracking ---

// LastIndexedAt returns when a file was last indexed. The second return is
// false when the file has never been seen.
func (s *SQLiteStore) LastIndexedAt(ctx context.Context, projectID, relPath string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_indexed_at FROM files
		WHERE project_id = ? AND file_path = ?`, projectID, relPath)

	var at string
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read file record: %w", err)
	}
	return parseTime(at), true, nil
}

func (s *SQLiteStore) TouchFile(ctx context.Context, projectID, relPath string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (project_id, file_path, last_indexed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET last_indexed_at = excluded.last_indexed_at`,
		projectID, relPath, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to touch file: %w", err)
	}
	return nil
}

// --- Chunk operations ---

// ReplaceFileChunks atomically swaps the stored chunks for one file: old
// chunks are deleted, new ones inserted, and the file's index timestamp is
// refreshed, all in a single transaction. Returns the new chunk row ids in
// input order.
func (s *SQLiteStore) ReplaceFileChunks(ctx context.Context, projectID, filePath string, chunks []types.Chunk) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE project_id = ? AND file_path = ?`,
		projectID, filePath); err != nil {
		return nil, fmt.Errorf("failed to delete stale chunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]int64, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("chunk %s:%d: %w", c.FilePath, c.StartLine, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (
				project_id, file_path, start_line, end_line, kind, name,
				signature, content, size, pattern_tags, dependencies,
				last_modified, access_count, freshness, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			projectID, filePath, c.StartLine, c.EndLine, string(c.Kind), c.Name,
			c.Signature, c.Content, c.Size, wrapList(c.PatternTags), wrapList(c.Dependencies),
			c.LastModified.UTC().Format(time.RFC3339Nano), now, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk id: %w", err)
		}
		c.ID = id
		ids = append(ids, id)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (project_id, file_path, last_indexed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET last_indexed_at = excluded.last_indexed_at`,
		projectID, filePath, now); err != nil {
		return nil, fmt.Errorf("failed to touch file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_path, start_line, end_line, kind, name,
		       signature, content, size, pattern_tags, dependencies, last_modified
		FROM chunks WHERE id = ?`, chunkID)

	var c types.Chunk
	var kind, tags, deps, lastMod string
	err := row.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.StartLine, &c.EndLine,
		&kind, &c.Name, &c.Signature, &c.Content, &c.Size, &tags, &deps, &lastMod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk %d: %w", chunkID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	c.Kind = types.ChunkKind(kind)
	c.PatternTags = unwrapList(tags)
	c.Dependencies = unwrapList(deps)
	c.LastModified = parseTime(lastMod)
	return &c, nil
}

// SetChunkEmbedding stores the vector for a chunk. Vectors of the wrong
// dimension never reach this point; the generator excludes them.
func (s *SQLiteStore) SetChunkEmbedding(ctx context.Context, chunkID int64, vector []float32, provider, model string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET embedding = ?, embedding_model = ?, updated_at = ?
		WHERE id = ?`,
		serializeVector(vector), provider+"/"+model, time.Now().UTC().Format(time.RFC3339Nano), chunkID)
	if err != nil {
		return fmt.Errorf("failed to store chunk embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %d: %w", chunkID, types.ErrNotFound)
	}
	return nil
}

// --- Memory operations ---

// coreDocID derives the stable document id of a core memory singleton.
func coreDocID(projectID, name string) string {
	return projectID + "/" + name
}

// UpsertCoreMemory creates or replaces the singleton document for (project,
// name). The version bump and embedding invalidation happen in a single SQL
// statement, so concurrent updates can interleave but never lose a version
// increment.
func (s *SQLiteStore) UpsertCoreMemory(ctx context.Context, projectID, name, content string) (int, error) {
	if name == "" {
		return 0, errors.New("core memory name is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			doc_id, project_id, name, class, content, importance,
			access_count, freshness, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0.8, 0, ?, 1, ?, ?)
		ON CONFLICT(project_id, name) WHERE name != '' DO UPDATE SET
			content = excluded.content,
			version = memories.version + 1,
			embedding = NULL,
			embedding_model = '',
			freshness = excluded.freshness,
			updated_at = excluded.updated_at`,
		coreDocID(projectID, name), projectID, name, string(types.MemoryCore),
		content, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert memory %q: %w", name, err)
	}

	var version int
	row := tx.QueryRowContext(ctx, `
		SELECT version FROM memories WHERE project_id = ? AND name = ?`,
		projectID, name)
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read memory version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit memory upsert: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) GetMemoryByName(ctx context.Context, projectID, name string) (*types.MemoryDocument, error) {
	return s.getMemory(ctx, `project_id = ? AND name = ?`, projectID, name)
}

func (s *SQLiteStore) GetMemory(ctx context.Context, projectID, docID string) (*types.MemoryDocument, error) {
	return s.getMemory(ctx, `project_id = ? AND doc_id = ?`, projectID, docID)
}

func (s *SQLiteStore) getMemory(ctx context.Context, where string, args ...any) (*types.MemoryDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, project_id, name, class, content, importance,
		       access_count, freshness, version
		FROM memories WHERE `+where, args...)

	var m types.MemoryDocument
	var class, freshness string
	err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &class, &m.Content,
		&m.Importance, &m.AccessCount, &freshness, &m.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("memory: %w", types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	m.Class = types.MemoryClass(class)
	m.Freshness = parseTime(freshness)
	return &m, nil
}

// AppendEventMemory inserts an append-only event document. The caller
// supplies the document id; events are never updated in place.
func (s *SQLiteStore) AppendEventMemory(ctx context.Context, doc *types.MemoryDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.IsCore() {
		return errors.New("core memories are upserted, not appended")
	}
	if doc.ID == "" {
		return errors.New("event memory id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	freshness := doc.Freshness
	if freshness.IsZero() {
		freshness = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			doc_id, project_id, name, class, content, importance,
			access_count, freshness, version, created_at, updated_at
		) VALUES (?, ?, '', ?, ?, ?, 0, ?, 1, ?, ?)`,
		doc.ID, doc.ProjectID, string(doc.Class), doc.Content, doc.Importance,
		freshness.UTC().Format(time.RFC3339Nano), now, now)
	if err != nil {
		return fmt.Errorf("failed to append memory event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetMemoryEmbedding(ctx context.Context, docID string, vector []float32, provider, model string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET embedding = ?, embedding_model = ?, updated_at = ?
		WHERE doc_id = ?`,
		serializeVector(vector), provider+"/"+model, time.Now().UTC().Format(time.RFC3339Nano), docID)
	if err != nil {
		return fmt.Errorf("failed to store memory embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", docID, types.ErrNotFound)
	}
	return nil
}

// ListDocsMissingEmbedding returns chunks and memories whose vector is
// missing or was invalidated, oldest first, with the composite text to embed.
func (s *SQLiteStore) ListDocsMissingEmbedding(ctx context.Context, projectID string, limit int) ([]PendingDoc, error) {
	if limit <= 0 {
		limit = 100
	}
	pending := make([]PendingDoc, 0, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, start_line, end_line, kind, name, signature,
		       content, pattern_tags
		FROM chunks
		WHERE project_id = ? AND embedding IS NULL
		ORDER BY id LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var c types.Chunk
		var kind, tags string
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine,
			&kind, &c.Name, &c.Signature, &c.Content, &tags); err != nil {
			return nil, err
		}
		c.Kind = types.ChunkKind(kind)
		c.PatternTags = unwrapList(tags)
		pending = append(pending, PendingDoc{Ref: types.ChunkRef(c.ID), Text: c.EmbeddingText()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pending) >= limit {
		return pending, nil
	}

	memRows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, name, content
		FROM memories
		WHERE project_id = ? AND embedding IS NULL
		ORDER BY id LIMIT ?`, projectID, limit-len(pending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending memories: %w", err)
	}
	defer func() { _ = memRows.Close() }()
	for memRows.Next() {
		var docID, name, content string
		if err := memRows.Scan(&docID, &name, &content); err != nil {
			return nil, err
		}
		text := content
		if name != "" {
			text = name + "\n" + content
		}
		pending = append(pending, PendingDoc{Ref: types.MemoryRef(docID), Text: text})
	}
	return pending, memRows.Err()
}

// --- Result hydration ---

// GetResult loads the presentation payload for a ranked ref.
func (s *SQLiteStore) GetResult(ctx context.Context, projectID string, ref types.DocRef) (*types.SearchResult, error) {
	switch ref.Kind {
	case types.DocChunk:
		row := s.db.QueryRowContext(ctx, `
			SELECT content, freshness, file_path, start_line, end_line, kind, name
			FROM chunks WHERE id = ? AND project_id = ?`, ref.ID, projectID)
		var r types.SearchResult
		var freshness, kind string
		err := row.Scan(&r.Content, &freshness, &r.FilePath, &r.StartLine,
			&r.EndLine, &kind, &r.Name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("result %s: %w", ref, types.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load chunk result: %w", err)
		}
		r.Ref = ref
		r.ChunkKind = types.ChunkKind(kind)
		r.Freshness = parseTime(freshness)
		return &r, nil

	case types.DocMemory:
		row := s.db.QueryRowContext(ctx, `
			SELECT content, freshness, name, class
			FROM memories WHERE doc_id = ? AND project_id = ?`, ref.ID, projectID)
		var r types.SearchResult
		var freshness, class string
		if err := row.Scan(&r.Content, &freshness, &r.MemoryName, &class); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("result %s: %w", ref, types.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load memory result: %w", err)
		}
		r.Ref = ref
		r.MemoryClass = types.MemoryClass(class)
		r.Freshness = parseTime(freshness)
		return &r, nil
	}
	return nil, fmt.Errorf("unknown doc kind %q", ref.Kind)
}

// --- Status ---

func (s *SQLiteStore) GetStatus(ctx context.Context, projectID string) (*ProjectStatus, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	status := &ProjectStatus{
		Project:         project,
		IndexesReady:    s.indexes.allReady(),
		FusionAvailable: s.FusionAvailable(),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files WHERE project_id = ?),
			(SELECT COUNT(*) FROM chunks WHERE project_id = ?),
			(SELECT COUNT(*) FROM chunks WHERE project_id = ? AND embedding IS NOT NULL),
			(SELECT COUNT(*) FROM memories WHERE project_id = ?),
			(SELECT COUNT(*) FROM chunks WHERE project_id = ? AND embedding IS NULL) +
			(SELECT COUNT(*) FROM memories WHERE project_id = ? AND embedding IS NULL),
			COALESCE((SELECT MAX(last_indexed_at) FROM files WHERE project_id = ?), '')`,
		projectID, projectID, projectID, projectID, projectID, projectID, projectID)

	var lastIndexed string
	err = row.Scan(&status.Files, &status.Chunks, &status.EmbeddedChunks,
		&status.Memories, &status.PendingVectors, &lastIndexed)
	if err != nil {
		return nil, fmt.Errorf("failed to read project status: %w", err)
	}
	if lastIndexed != "" {
		status.LastIndexedAt = parseTime(lastIndexed)
	}
	return status, nil
}

// --- Helpers ---

// wrapList encodes a string slice as ",a,b," so LIKE '%,x,%' matches whole
// entries only.
func wrapList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "," + strings.Join(items, ",") + ","
}

func unwrapList(s string) []string {
	trimmed := strings.Trim(s, ",")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
