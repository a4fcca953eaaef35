package embedder

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Environment variables consulted by the factory.
const (
	EnvProvider  = "CODEMEM_EMBEDDING_PROVIDER"
	EnvModel     = "CODEMEM_EMBEDDING_MODEL"
	EnvJinaKey   = "JINA_API_KEY"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// Config holds explicit embedder configuration for injection in tests and
// custom wiring.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	CacheSize int
}

// New creates an embedder with explicit configuration.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cfg.Model, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedModel, cfg.Provider)
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
//  1. CODEMEM_EMBEDDING_PROVIDER (jina, openai, local)
//  2. Whichever of JINA_API_KEY / OPENAI_API_KEY is set
//  3. The deterministic local provider
func NewFromEnv() (Embedder, error) {
	provider := strings.ToLower(os.Getenv(EnvProvider))
	model := os.Getenv(EnvModel)
	jinaKey := os.Getenv(EnvJinaKey)
	openaiKey := os.Getenv(EnvOpenAIKey)
	cache := NewCache(10000)

	if provider != "" {
		switch provider {
		case ProviderJina:
			return NewJinaProvider(jinaKey, model, cache)
		case ProviderOpenAI:
			return NewOpenAIProvider(openaiKey, model, cache)
		case ProviderLocal:
			return NewLocalProvider(cache)
		}
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedModel, provider)
	}

	if jinaKey != "" {
		return NewJinaProvider(jinaKey, model, cache)
	}
	if openaiKey != "" {
		return NewOpenAIProvider(openaiKey, model, cache)
	}
	return NewLocalProvider(cache)
}

var (
	sharedOnce sync.Once
	sharedEmb  Embedder
	sharedErr  error
)

// Shared returns the process-wide embedder, constructed lazily on first use
// and reused afterwards so credential checks happen once, not per call.
func Shared() (Embedder, error) {
	sharedOnce.Do(func() {
		sharedEmb, sharedErr = NewFromEnv()
	})
	return sharedEmb, sharedErr
}
