package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codemem/codemem/internal/embedder"
	"github.com/codemem/codemem/internal/memory"
	"github.com/codemem/codemem/internal/scanner"
	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

// ErrIndexingInProgress is returned when another indexing run holds the lock.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// embedSweepBatch bounds how many pending documents one sweep iteration
// pulls from the store.
const embedSweepBatch = 100

// Stats summarizes one indexing run.
type Stats struct {
	ProjectID      string
	FilesProcessed int
	FilesSkipped   int
	ChunksCreated  int
	DocsEmbedded   int
	EmbedFailures  int
	Errors         []string
	Duration       time.Duration
}

// Indexer drives the one-way indexing flow: scan files into chunks, persist
// them, then sweep embeddings for every document missing a vector. Only one
// run may be active at a time.
type Indexer struct {
	store    store.Store
	scanner  *scanner.Scanner
	embedder embedder.Embedder
	memories *memory.Manager
	lock     IndexLock
	log      zerolog.Logger
}

func New(st store.Store, sc *scanner.Scanner, emb embedder.Embedder, mem *memory.Manager, log zerolog.Logger) *Indexer {
	return &Indexer{
		store:    st,
		scanner:  sc,
		embedder: emb,
		memories: mem,
		log:      log.With().Str("component", "indexer").Logger(),
	}
}

// IndexProject indexes the project rooted at rootPath. The project record
// and core memories are created on first contact. Returns
// ErrIndexingInProgress when another run holds the lock.
func (ix *Indexer) IndexProject(ctx context.Context, rootPath string, opts scanner.Options) (*Stats, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer ix.lock.Release()

	started := time.Now()
	project := types.NewProject(rootPath)

	if err := ix.store.EnsureProject(ctx, project); err != nil {
		return nil, err
	}
	if err := ix.memories.EnsureCore(ctx, project.ID); err != nil {
		return nil, err
	}

	scanned, err := ix.scanner.Scan(ctx, project, opts)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	stats := &Stats{
		ProjectID:      project.ID,
		FilesProcessed: scanned.FilesProcessed,
		FilesSkipped:   scanned.FilesSkipped,
	}
	for _, fe := range scanned.Errors {
		stats.Errors = append(stats.Errors, fe.String())
	}

	// Replace chunks one file at a time so a failure mid-run leaves every
	// already-processed file consistent.
	for path, chunks := range groupByFile(scanned.Chunks) {
		ids, err := ix.store.ReplaceFileChunks(ctx, project.ID, path, chunks)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		stats.ChunksCreated += len(ids)
	}

	embedded, failures, err := ix.embedPending(ctx, project.ID)
	stats.DocsEmbedded = embedded
	stats.EmbedFailures = failures
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
	}

	stats.Duration = time.Since(started)
	ix.log.Info().
		Str("project", project.ID).
		Int("files", stats.FilesProcessed).
		Int("chunks", stats.ChunksCreated).
		Int("embedded", stats.DocsEmbedded).
		Int("embed_failures", stats.EmbedFailures).
		Dur("took", stats.Duration).
		Msg("indexing run complete")
	return stats, nil
}

// EmbedPending runs one embedding sweep outside a full indexing run, e.g.
// after a memory update invalidated its vector.
func (ix *Indexer) EmbedPending(ctx context.Context, projectID string) (int, int, error) {
	if !ix.lock.TryAcquire() {
		return 0, 0, ErrIndexingInProgress
	}
	defer ix.lock.Release()
	return ix.embedPending(ctx, projectID)
}

// embedPending embeds every document missing a vector, in bounded batches.
// A batch item the provider failed to embed is excluded and counted; it is
// retried on the next sweep. Auth errors abort the sweep since every later
// batch would fail the same way.
func (ix *Indexer) embedPending(ctx context.Context, projectID string) (embedded, failures int, err error) {
	attempted := make(map[types.DocRef]bool)
	for {
		// Failed documents stay in the listing on later iterations, so
		// widen the window by the number already attempted to reach the
		// fresh entries behind them.
		listed, err := ix.store.ListDocsMissingEmbedding(ctx, projectID, embedSweepBatch+len(attempted))
		if err != nil {
			return embedded, failures, fmt.Errorf("failed to list pending documents: %w", err)
		}
		pending := listed[:0]
		for _, doc := range listed {
			if attempted[doc.Ref] {
				continue
			}
			if len(pending) == embedSweepBatch {
				break
			}
			attempted[doc.Ref] = true
			pending = append(pending, doc)
		}
		if len(pending) == 0 {
			return embedded, failures, nil
		}

		texts := make([]string, len(pending))
		for i, doc := range pending {
			texts[i] = doc.Text
		}
		batch, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return embedded, failures, fmt.Errorf("embedding batch failed: %w", err)
		}
		if mismatch := batch.Mismatch(); mismatch != nil {
			failures += len(batch.Failed)
			ix.log.Warn().Str("project", projectID).Err(mismatch).
				Msg("batch returned incomplete vectors, affected documents excluded")
		}

		for i, vec := range batch.Vectors {
			if vec == nil {
				continue
			}
			ref := pending[i].Ref
			switch ref.Kind {
			case types.DocChunk:
				id, perr := parseChunkID(ref.ID)
				if perr != nil {
					failures++
					continue
				}
				err = ix.store.SetChunkEmbedding(ctx, id, vec, batch.Provider, batch.Model)
			case types.DocMemory:
				err = ix.store.SetMemoryEmbedding(ctx, ref.ID, vec, batch.Provider, batch.Model)
			}
			if err != nil {
				failures++
				ix.log.Warn().Stringer("ref", ref).Err(err).Msg("failed to store embedding")
				continue
			}
			embedded++
		}
	}
}

func groupByFile(chunks []types.Chunk) map[string][]types.Chunk {
	grouped := make(map[string][]types.Chunk)
	for _, c := range chunks {
		grouped[c.FilePath] = append(grouped[c.FilePath], c)
	}
	return grouped
}

func parseChunkID(id string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(id, "%d", &n)
	return n, err
}
