package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

// initialCoreContent seeds a fresh core memory so callers always get a
// document back, even before anything has been recorded.
var initialCoreContent = map[string]string{
	"architecture": "# Architecture\n\nNo architecture notes recorded yet.\n",
	"conventions":  "# Conventions\n\nNo conventions recorded yet.\n",
	"decisions":    "# Decisions\n\nNo decisions recorded yet.\n",
	"glossary":     "# Glossary\n\nNo terms recorded yet.\n",
}

// Manager owns the two memory lifecycles: singleton core documents mutated
// by explicit upserts, and append-only event documents identified by ULIDs.
type Manager struct {
	store store.Store
	log   zerolog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewManager(st store.Store, log zerolog.Logger) *Manager {
	return &Manager{
		store:   st,
		log:     log.With().Str("component", "memory").Logger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// EnsureCore creates any missing core memory singleton for the project.
// Existing documents are left untouched; re-running is free.
func (m *Manager) EnsureCore(ctx context.Context, projectID string) error {
	for _, name := range types.CoreMemoryNames {
		_, err := m.store.GetMemoryByName(ctx, projectID, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("failed to check core memory %q: %w", name, err)
		}
		if _, err := m.store.UpsertCoreMemory(ctx, projectID, name, initialCoreContent[name]); err != nil {
			return fmt.Errorf("failed to seed core memory %q: %w", name, err)
		}
		m.log.Debug().Str("project", projectID).Str("name", name).Msg("seeded core memory")
	}
	return nil
}

// Upsert replaces the content of the named core memory and returns the new
// version. The version bump happens atomically in the store, so concurrent
// upserts interleave without losing increments. The stored embedding is
// invalidated and regenerated on the next embedding sweep.
func (m *Manager) Upsert(ctx context.Context, projectID, name, content string) (int, error) {
	if name == "" {
		return 0, errors.New("memory name is required")
	}
	if content == "" {
		return 0, errors.New("memory content cannot be empty")
	}
	version, err := m.store.UpsertCoreMemory(ctx, projectID, name, content)
	if err != nil {
		return 0, err
	}
	m.log.Info().Str("project", projectID).Str("name", name).Int("version", version).
		Msg("core memory updated")
	return version, nil
}

// Get returns the named core memory.
func (m *Manager) Get(ctx context.Context, projectID, name string) (*types.MemoryDocument, error) {
	return m.store.GetMemoryByName(ctx, projectID, name)
}

// AppendEvent records an append-only event document and returns its id.
func (m *Manager) AppendEvent(ctx context.Context, projectID string, class types.MemoryClass, content string, importance float64) (string, error) {
	id, err := m.newEventID()
	if err != nil {
		return "", err
	}
	doc := &types.MemoryDocument{
		ID:         id,
		ProjectID:  projectID,
		Class:      class,
		Content:    content,
		Importance: importance,
		Freshness:  time.Now().UTC(),
	}
	if err := m.store.AppendEventMemory(ctx, doc); err != nil {
		return "", err
	}
	return id, nil
}

// newEventID mints a monotonic ULID so events sort by insertion order.
func (m *Manager) newEventID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), m.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to mint event id: %w", err)
	}
	return id.String(), nil
}
