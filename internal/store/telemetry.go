package store

import (
	"context"
	"fmt"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// TouchDocs bumps the access count and freshness of the given refs. Counts
// only ever increase; a failed touch never surfaces to a query response.
func (s *SQLiteStore) TouchDocs(ctx context.Context, projectID string, refs []types.DocRef) error {
	if len(refs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin touch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range refs {
		switch ref.Kind {
		case types.DocChunk:
			_, err = tx.ExecContext(ctx, `
				UPDATE chunks SET access_count = access_count + 1, freshness = ?
				WHERE id = ? AND project_id = ?`, now, ref.ID, projectID)
		case types.DocMemory:
			_, err = tx.ExecContext(ctx, `
				UPDATE memories SET access_count = access_count + 1, freshness = ?
				WHERE doc_id = ? AND project_id = ?`, now, ref.ID, projectID)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to touch %s: %w", ref, err)
		}
	}
	return tx.Commit()
}

// AppendQueryLog records one served query.
func (s *SQLiteStore) AppendQueryLog(ctx context.Context, rec QueryLogRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (query_id, project_id, day, query_text, result_count, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.QueryID, rec.ProjectID, rec.Day, rec.Query, rec.ResultCount, rec.LatencyMS)
	if err != nil {
		return fmt.Errorf("failed to append query log: %w", err)
	}
	return nil
}

// CompactQueryLog folds raw query rows into per-day aggregates, keeping only
// the keepRecent most recent raw rows per project. Returns the number of raw
// rows removed.
func (s *SQLiteStore) CompactQueryLog(ctx context.Context, keepRecent int) (int64, error) {
	if keepRecent < 0 {
		keepRecent = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin compaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Aggregate everything outside the keep window, then delete it. The
	// aggregate upsert is additive so repeated compactions never double
	// count: rows are removed in the same transaction that folds them in.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_log_daily (project_id, day, query_count, total_results, total_latency_ms)
		SELECT project_id, day, COUNT(*), SUM(result_count), SUM(latency_ms)
		FROM query_log q
		WHERE rowid NOT IN (
			SELECT rowid FROM query_log
			WHERE project_id = q.project_id
			ORDER BY rowid DESC LIMIT ?
		)
		GROUP BY project_id, day
		ON CONFLICT(project_id, day) DO UPDATE SET
			query_count = query_count + excluded.query_count,
			total_results = total_results + excluded.total_results,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms`,
		keepRecent)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate query log: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM query_log WHERE rowid NOT IN (
			SELECT rowid FROM query_log q2
			WHERE q2.project_id = query_log.project_id
			ORDER BY rowid DESC LIMIT ?
		)`, keepRecent)
	if err != nil {
		return 0, fmt.Errorf("failed to trim query log: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compaction: %w", err)
	}
	return removed, nil
}
