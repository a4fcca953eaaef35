package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codemem/codemem/pkg/types"
)

// Common errors.
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrUnsupportedModel  = errors.New("unsupported model")
)

// Mode selects the embedding task. Document and query embeddings share the
// same dimensionality so the resulting vectors are comparable.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

// BatchResult holds the vectors for one batch call. Vectors is always aligned
// to the input order and length: an input the provider failed to embed has a
// nil vector and its index recorded in Failed. Mismatches are never silently
// padded or realigned.
type BatchResult struct {
	Vectors  [][]float32
	Failed   []int
	Provider string
	Model    string
}

// Mismatch returns a DimensionMismatch error describing the failed entries,
// or nil when the batch is complete.
func (r *BatchResult) Mismatch() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d inputs have no valid vector (provider %s)",
		types.ErrDimensionMismatch, len(r.Failed), len(r.Vectors), r.Provider)
}

// Embedder generates fixed-dimension vectors for document and query text.
type Embedder interface {
	// EmbedDocuments embeds a batch of document texts, splitting into
	// provider-sized sub-batches as needed.
	EmbedDocuments(ctx context.Context, texts []string) (*BatchResult, error)

	// EmbedQuery embeds a single search query in query mode.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed vector dimensionality for this provider.
	Dimension() int

	// Provider returns the provider name.
	Provider() string

	// Close releases any resources held by the embedder.
	Close() error
}

// Cache provides in-memory LRU caching of vectors by content hash and mode.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of a cached vector so caller mutations cannot pollute
// the cache.
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector with automatic LRU eviction.
func (c *Cache) Set(key string, v []float32) {
	c.cache.Add(key, v)
}

// Len returns the current cache size.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// CacheKey computes the cache key for a text in a given mode.
func CacheKey(mode Mode, text string) string {
	h := sha256.Sum256([]byte(text))
	return string(mode) + ":" + hex.EncodeToString(h[:])
}

// validateTexts rejects empty batches and empty entries up front so provider
// calls never carry unembeddable input.
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("embed: no texts provided")
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("embed: %w at index %d", ErrEmptyText, i)
		}
	}
	return nil
}
