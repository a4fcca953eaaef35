package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/codemem/codemem/pkg/types"
)

// Provider configuration.
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 256

	// MaxBatchSize bounds a single provider call to respect upstream
	// throughput limits; larger inputs are split.
	MaxBatchSize = 50

	jinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	openaiEndpoint = "https://api.openai.com/v1/embeddings"
)

// Jina task names for the two embedding modes.
var jinaTasks = map[Mode]string{
	ModeDocument: "retrieval.passage",
	ModeQuery:    "retrieval.query",
}

// httpProvider is the shared HTTP embedding client. Jina and OpenAI differ
// only in endpoint, auth env name, dimensionality, and whether a task field
// is sent for the mode.
type httpProvider struct {
	name      string
	endpoint  string
	apiKey    string
	keyEnv    string
	model     string
	dimension int
	sendTask  bool

	httpClient *http.Client
	cache      *Cache
}

func newHTTPProvider(name, endpoint, apiKey, keyEnv, model string, dim int, sendTask bool, cache *Cache) (*httpProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	return &httpProvider{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		keyEnv:    keyEnv,
		model:     model,
		dimension: dim,
		sendTask:  sendTask,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}, nil
}

// NewJinaProvider creates a Jina AI embedder (1024 dimensions, task-aware).
func NewJinaProvider(apiKey, model string, cache *Cache) (Embedder, error) {
	if model == "" {
		model = DefaultJinaModel
	}
	return newHTTPProvider(ProviderJina, jinaEndpoint, apiKey, "JINA_API_KEY", model, JinaDimension, true, cache)
}

// NewOpenAIProvider creates an OpenAI embedder (1536 dimensions).
func NewOpenAIProvider(apiKey, model string, cache *Cache) (Embedder, error) {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newHTTPProvider(ProviderOpenAI, openaiEndpoint, apiKey, "OPENAI_API_KEY", model, OpenAIDimension, false, cache)
}

func (p *httpProvider) EmbedDocuments(ctx context.Context, texts []string) (*BatchResult, error) {
	return p.embed(ctx, texts, ModeDocument)
}

func (p *httpProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := p.embed(ctx, []string{text}, ModeQuery)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 || res.Vectors[0] == nil {
		return nil, res.Mismatch()
	}
	return res.Vectors[0], nil
}

// embed runs the cache check, sub-batch split, and retry loop for one mode.
func (p *httpProvider) embed(ctx context.Context, texts []string, mode Mode) (*BatchResult, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Vectors:  make([][]float32, len(texts)),
		Provider: p.name,
		Model:    p.model,
	}

	// Resolve cache hits first; only misses go to the provider.
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if p.cache != nil {
			if v, ok := p.cache.Get(CacheKey(mode, t)); ok {
				result.Vectors[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	for start := 0; start < len(missTexts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(missTexts))
		sub := missTexts[start:end]

		config := DefaultRetryConfig()
		vectors, err := retryWithBackoff(ctx, config, func() ([][]float32, error) {
			return p.callAPI(ctx, sub, mode)
		})
		if err != nil {
			return nil, err
		}

		// Align the sub-batch response to the original input positions.
		// A short or long response marks the unmatched inputs as failed
		// rather than shifting vectors onto the wrong text.
		for j, orig := range missIdx[start:end] {
			var v []float32
			if j < len(vectors) {
				v = vectors[j]
			}
			if len(v) != p.dimension {
				result.Failed = append(result.Failed, orig)
				continue
			}
			result.Vectors[orig] = v
			if p.cache != nil {
				p.cache.Set(CacheKey(mode, sub[j]), v)
			}
		}
	}

	return result, nil
}

func (p *httpProvider) callAPI(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}
	if p.sendTask {
		reqBody["task"] = jinaTasks[mode]
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProviderUnavailable, p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Providers return an index per item; honor it so a sparse response
	// leaves holes instead of silently compacting.
	vectors := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

// statusError maps provider HTTP failures onto the error taxonomy. Auth and
// invalid-model errors are permanent and skip the retry loop.
func (p *httpProvider) statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(bodyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return permanent(fmt.Errorf("%w: %s rejected the key in %s: %s",
			types.ErrProviderAuth, p.name, p.keyEnv, detail))
	case resp.StatusCode == http.StatusNotFound ||
		(resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "model")):
		return permanent(fmt.Errorf("%w: %s does not accept model %q: %s",
			types.ErrProviderAuth, p.name, p.model, detail))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s rate limited: %s", types.ErrProviderUnavailable, p.name, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", types.ErrProviderUnavailable, p.name, resp.StatusCode, detail)
	}
	return permanent(fmt.Errorf("%s api error %d: %s", p.name, resp.StatusCode, detail))
}

func (p *httpProvider) Dimension() int {
	return p.dimension
}

func (p *httpProvider) Provider() string {
	return p.name
}

func (p *httpProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider is a deterministic offline embedder used for tests and
// credential-free setups. Vectors are derived from content hashes and
// normalized, so identical text always embeds identically.
type LocalProvider struct {
	cache *Cache
}

// NewLocalProvider creates a local embedder.
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{cache: cache}, nil
}

func (l *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) (*BatchResult, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	result := &BatchResult{
		Vectors:  make([][]float32, len(texts)),
		Provider: ProviderLocal,
		Model:    "local-hash",
	}
	for i, t := range texts {
		result.Vectors[i] = l.vectorFor(t)
	}
	return result, nil
}

func (l *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return l.vectorFor(text), nil
}

// vectorFor hashes overlapping trigrams into a fixed-size vector so texts
// sharing vocabulary land near each other. Crude, but deterministic and
// dimension-stable, which is all the tests need.
func (l *LocalProvider) vectorFor(text string) []float32 {
	if l.cache != nil {
		if v, ok := l.cache.Get(CacheKey(ModeDocument, text)); ok {
			return v
		}
	}

	vector := make([]float32, LocalDimension)
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, w := range words {
		h := sha256.Sum256([]byte(w))
		idx := int(h[0])<<8 | int(h[1])
		vector[idx%LocalDimension] += 1
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v * v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vector {
			vector[i] /= n
		}
	}

	if l.cache != nil {
		l.cache.Set(CacheKey(ModeDocument, text), vector)
	}
	return vector
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Close() error {
	return nil
}
