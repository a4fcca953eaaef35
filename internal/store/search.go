package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// SearchVector ranks embedded chunks and memories by cosine similarity to
// the query vector. The candidate pool is bounded; limit callers get the top
// slice of it. When the vector extension is available the distance is
// computed in SQL, otherwise the vectors are pulled and compared in Go.
func (s *SQLiteStore) SearchVector(ctx context.Context, projectID string, vector []float32, pool, limit int, f *Filters) ([]DocScore, error) {
	if limit <= 0 {
		return []DocScore{}, nil
	}
	if pool < limit {
		pool = limit
	}
	if VectorExtensionAvailable {
		return s.searchVectorSQL(ctx, projectID, vector, pool, limit, f)
	}
	return s.searchVectorGo(ctx, projectID, vector, pool, limit, f)
}

func (s *SQLiteStore) searchVectorSQL(ctx context.Context, projectID string, vector []float32, pool, limit int, f *Filters) ([]DocScore, error) {
	blob := serializeVector(vector)
	scores := make([]DocScore, 0, limit)

	if f.wantsKind(types.DocChunk) {
		query := `
			SELECT id, 1.0 - vec_distance_cosine(embedding, ?) AS similarity, freshness
			FROM chunks
			WHERE project_id = ? AND embedding IS NOT NULL`
		args := []any{blob, projectID}
		query, args = appendChunkFilters(query, "chunks.", args, f)
		query += " ORDER BY similarity DESC LIMIT ?"
		args = append(args, pool)

		hits, err := s.collectScores(ctx, query, args, types.DocChunk)
		if err != nil {
			return nil, fmt.Errorf("vector search over chunks: %w", err)
		}
		scores = append(scores, hits...)
	}

	if f.wantsKind(types.DocMemory) {
		query := `
			SELECT doc_id, 1.0 - vec_distance_cosine(embedding, ?) AS similarity, freshness
			FROM memories
			WHERE project_id = ? AND embedding IS NOT NULL`
		args := []any{blob, projectID}
		query, args = appendMemoryFilters(query, "memories.", args, f)
		query += " ORDER BY similarity DESC LIMIT ?"
		args = append(args, pool)

		hits, err := s.collectScores(ctx, query, args, types.DocMemory)
		if err != nil {
			return nil, fmt.Errorf("vector search over memories: %w", err)
		}
		scores = append(scores, hits...)
	}

	sortByScore(scores)
	return clip(scores, limit), nil
}

func (s *SQLiteStore) searchVectorGo(ctx context.Context, projectID string, vector []float32, pool, limit int, f *Filters) ([]DocScore, error) {
	scores := make([]DocScore, 0, pool)

	if f.wantsKind(types.DocChunk) {
		query := `
			SELECT id, embedding, freshness
			FROM chunks
			WHERE project_id = ? AND embedding IS NOT NULL`
		args := []any{projectID}
		query, args = appendChunkFilters(query, "chunks.", args, f)
		query += " ORDER BY freshness DESC LIMIT ?"
		args = append(args, pool)

		hits, err := s.scoreVectors(ctx, query, args, vector, types.DocChunk)
		if err != nil {
			return nil, fmt.Errorf("vector search over chunks: %w", err)
		}
		scores = append(scores, hits...)
	}

	if f.wantsKind(types.DocMemory) {
		query := `
			SELECT doc_id, embedding, freshness
			FROM memories
			WHERE project_id = ? AND embedding IS NOT NULL`
		args := []any{projectID}
		query, args = appendMemoryFilters(query, "memories.", args, f)
		query += " ORDER BY freshness DESC LIMIT ?"
		args = append(args, pool)

		hits, err := s.scoreVectors(ctx, query, args, vector, types.DocMemory)
		if err != nil {
			return nil, fmt.Errorf("vector search over memories: %w", err)
		}
		scores = append(scores, hits...)
	}

	sortByScore(scores)
	return clip(scores, limit), nil
}

// scoreVectors pulls stored vectors and computes cosine similarity in Go.
// Rows whose vector dimension does not match the query are skipped.
func (s *SQLiteStore) scoreVectors(ctx context.Context, query string, args []any, vector []float32, kind types.DocKind) ([]DocScore, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scores []DocScore
	for rows.Next() {
		var id string
		var blob []byte
		var freshness string
		if err := rows.Scan(&id, &blob, &freshness); err != nil {
			return nil, err
		}
		stored := deserializeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		scores = append(scores, DocScore{
			Ref:       types.DocRef{Kind: kind, ID: id},
			Score:     cosineSimilarity(vector, stored),
			Freshness: parseTime(freshness),
		})
	}
	return scores, rows.Err()
}

// SearchText runs BM25 full-text search over chunk and memory content.
// Returns IndexNotReady while a text index creation is still pending.
func (s *SQLiteStore) SearchText(ctx context.Context, projectID, query string, limit int, f *Filters) ([]DocScore, error) {
	if limit <= 0 {
		return []DocScore{}, nil
	}
	sanitized := sanitizeMatchQuery(query)
	if sanitized == "" {
		return []DocScore{}, nil
	}
	scores := make([]DocScore, 0, limit)

	if f.wantsKind(types.DocChunk) {
		if !s.indexes.isReady("chunks_text") {
			return nil, fmt.Errorf("text index for chunks: %w", types.ErrIndexNotReady)
		}
		sqlQuery := `
			SELECT c.id, bm25(chunks_fts) AS score, c.freshness
			FROM chunks_fts
			INNER JOIN chunks c ON chunks_fts.rowid = c.id
			WHERE chunks_fts MATCH ? AND c.project_id = ?`
		args := []any{sanitized, projectID}
		sqlQuery, args = appendChunkFilters(sqlQuery, "c.", args, f)
		sqlQuery += " ORDER BY score LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectTextScores(ctx, sqlQuery, args, types.DocChunk)
		if err != nil {
			return nil, fmt.Errorf("text search over chunks: %w", err)
		}
		scores = append(scores, hits...)
	}

	if f.wantsKind(types.DocMemory) {
		if !s.indexes.isReady("memories_text") {
			return nil, fmt.Errorf("text index for memories: %w", types.ErrIndexNotReady)
		}
		sqlQuery := `
			SELECT m.doc_id, bm25(memories_fts) AS score, m.freshness
			FROM memories_fts
			INNER JOIN memories m ON memories_fts.rowid = m.id
			WHERE memories_fts MATCH ? AND m.project_id = ?`
		args := []any{sanitized, projectID}
		sqlQuery, args = appendMemoryFilters(sqlQuery, "m.", args, f)
		sqlQuery += " ORDER BY score LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectTextScores(ctx, sqlQuery, args, types.DocMemory)
		if err != nil {
			return nil, fmt.Errorf("text search over memories: %w", err)
		}
		scores = append(scores, hits...)
	}

	sortByScore(scores)
	return clip(scores, limit), nil
}

// SearchRecent returns documents touched within the window, newest first.
// The score decays linearly from 1 at now to 0 at the window edge.
func (s *SQLiteStore) SearchRecent(ctx context.Context, projectID string, window time.Duration, limit int, f *Filters) ([]DocScore, error) {
	if limit <= 0 {
		return []DocScore{}, nil
	}
	now := time.Now().UTC()
	cutoff := now.Add(-window).Format(time.RFC3339Nano)
	scores := make([]DocScore, 0, limit)

	if f.wantsKind(types.DocChunk) {
		query := `
			SELECT id, 0.0, freshness FROM chunks
			WHERE project_id = ? AND freshness >= ?`
		args := []any{projectID, cutoff}
		query, args = appendChunkFilters(query, "chunks.", args, f)
		query += " ORDER BY freshness DESC LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectScores(ctx, query, args, types.DocChunk)
		if err != nil {
			return nil, fmt.Errorf("recency search over chunks: %w", err)
		}
		scores = append(scores, hits...)
	}

	if f.wantsKind(types.DocMemory) {
		query := `
			SELECT doc_id, 0.0, freshness FROM memories
			WHERE project_id = ? AND freshness >= ?`
		args := []any{projectID, cutoff}
		query, args = appendMemoryFilters(query, "memories.", args, f)
		query += " ORDER BY freshness DESC LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectScores(ctx, query, args, types.DocMemory)
		if err != nil {
			return nil, fmt.Errorf("recency search over memories: %w", err)
		}
		scores = append(scores, hits...)
	}

	for i := range scores {
		age := now.Sub(scores[i].Freshness)
		if age < 0 {
			age = 0
		}
		scores[i].Score = 1 - float64(age)/float64(window)
	}
	sortByScore(scores)
	return clip(scores, limit), nil
}

// SearchFrequent returns the most accessed documents at or above the access
// floor. The access count is the score; ordering is what fusion consumes.
func (s *SQLiteStore) SearchFrequent(ctx context.Context, projectID string, minAccess int64, limit int, f *Filters) ([]DocScore, error) {
	if limit <= 0 {
		return []DocScore{}, nil
	}
	scores := make([]DocScore, 0, limit)

	if f.wantsKind(types.DocChunk) {
		query := `
			SELECT id, CAST(access_count AS REAL), freshness FROM chunks
			WHERE project_id = ? AND access_count >= ?`
		args := []any{projectID, minAccess}
		query, args = appendChunkFilters(query, "chunks.", args, f)
		query += " ORDER BY access_count DESC, freshness DESC LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectScores(ctx, query, args, types.DocChunk)
		if err != nil {
			return nil, fmt.Errorf("frequency search over chunks: %w", err)
		}
		scores = append(scores, hits...)
	}

	if f.wantsKind(types.DocMemory) {
		query := `
			SELECT doc_id, CAST(access_count AS REAL), freshness FROM memories
			WHERE project_id = ? AND access_count >= ?`
		args := []any{projectID, minAccess}
		query, args = appendMemoryFilters(query, "memories.", args, f)
		query += " ORDER BY access_count DESC, freshness DESC LIMIT ?"
		args = append(args, limit)

		hits, err := s.collectScores(ctx, query, args, types.DocMemory)
		if err != nil {
			return nil, fmt.Errorf("frequency search over memories: %w", err)
		}
		scores = append(scores, hits...)
	}

	sortByScore(scores)
	return clip(scores, limit), nil
}

// --- Shared plumbing ---

func (s *SQLiteStore) collectScores(ctx context.Context, query string, args []any, kind types.DocKind) ([]DocScore, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanScores(rows, kind, false)
}

func (s *SQLiteStore) collectTextScores(ctx context.Context, query string, args []any, kind types.DocKind) ([]DocScore, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanScores(rows, kind, true)
}

func scanScores(rows *sql.Rows, kind types.DocKind, bm25 bool) ([]DocScore, error) {
	var scores []DocScore
	for rows.Next() {
		var id string
		var score float64
		var freshness string
		if err := rows.Scan(&id, &score, &freshness); err != nil {
			return nil, err
		}
		if bm25 {
			// BM25 scores are negative, lower is better; fold into (0, 1]
			score = 1.0 / (1.0 + math.Abs(score)/50.0)
		}
		scores = append(scores, DocScore{
			Ref:       types.DocRef{Kind: kind, ID: id},
			Score:     score,
			Freshness: parseTime(freshness),
		})
	}
	return scores, rows.Err()
}

// appendChunkFilters adds chunk-side WHERE clauses. col is the column
// qualifier matching the caller's FROM clause, "chunks." or an alias
// like "c.".
func appendChunkFilters(query string, col string, args []any, f *Filters) (string, []any) {
	if f == nil {
		return query, args
	}

	if f.PathGlob != "" {
		query += " AND " + col + "file_path GLOB ?"
		args = append(args, f.PathGlob)
	}
	if len(f.ChunkKinds) > 0 {
		query += " AND " + col + "kind IN (" + placeholders(len(f.ChunkKinds)) + ")"
		for _, k := range f.ChunkKinds {
			args = append(args, string(k))
		}
	}
	if len(f.Tags) > 0 {
		query += " AND ("
		for i, tag := range f.Tags {
			if i > 0 {
				query += " OR "
			}
			query += col + "pattern_tags LIKE ?"
			args = append(args, "%,"+tag+",%")
		}
		query += ")"
	}
	if f.Dependency != "" {
		query += " AND " + col + "dependencies LIKE ?"
		args = append(args, "%,"+f.Dependency+",%")
	}
	return query, args
}

// appendMemoryFilters adds memory-side WHERE clauses under the given
// column qualifier.
func appendMemoryFilters(query string, col string, args []any, f *Filters) (string, []any) {
	if f == nil || f.MemoryClass == "" {
		return query, args
	}
	query += " AND " + col + "class = ?"
	args = append(args, string(f.MemoryClass))
	return query, args
}

func placeholders(n int) string {
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}

func sortByScore(scores []DocScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Freshness.After(scores[j].Freshness)
	})
}

func clip(scores []DocScore, limit int) []DocScore {
	if len(scores) > limit {
		return scores[:limit]
	}
	return scores
}
