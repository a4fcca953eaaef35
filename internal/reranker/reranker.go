package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/codemem/codemem/pkg/types"
)

const (
	// DefaultEndpoint is the Jina rerank API.
	DefaultEndpoint = "https://api.jina.ai/v1/rerank"
	// DefaultModel is the rerank model used when none is configured.
	DefaultModel = "jina-reranker-v2-base-multilingual"

	// EnvAPIKey names the credential environment variable.
	EnvAPIKey = "JINA_API_KEY"

	// maxDocumentChars bounds each candidate's text sent to the provider.
	maxDocumentChars = 1000

	requestTimeout = 10 * time.Second
)

// Client reorders a fused result page through an external rerank provider.
// It fails open: on any provider problem, a missing credential, or fewer
// than two candidates, the input order is returned unchanged.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a rerank client from the environment. Returns nil when no
// credential is configured; the planner treats a nil reranker as disabled.
func New(log zerolog.Logger) *Client {
	apiKey := os.Getenv(EnvAPIKey)
	if apiKey == "" {
		return nil
	}
	return &Client{
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("component", "reranker").Logger(),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns a permutation of the first topK results, best first. The
// returned slice always contains exactly the input results: indices the
// provider did not score keep their relative order at the tail.
func (c *Client) Rerank(ctx context.Context, query string, results []types.SearchResult, topK int) []types.SearchResult {
	if c == nil || len(results) < 2 {
		return results
	}
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}

	docs := make([]string, topK)
	for i := 0; i < topK; i++ {
		docs[i] = truncate(results[i].Content, maxDocumentChars)
	}

	order, err := c.call(ctx, query, docs, topK)
	if err != nil {
		c.log.Warn().Err(err).Msg("rerank failed, keeping fused order")
		return results
	}

	reordered := make([]types.SearchResult, 0, len(results))
	taken := make(map[int]bool, topK)
	for _, idx := range order {
		if idx < 0 || idx >= topK || taken[idx] {
			continue
		}
		taken[idx] = true
		reordered = append(reordered, results[idx])
	}
	for i := range results {
		if i < topK && !taken[i] {
			reordered = append(reordered, results[i])
		} else if i >= topK {
			reordered = append(reordered, results[i])
		}
	}
	return reordered
}

func (c *Client) call(ctx context.Context, query string, docs []string, topN int) ([]int, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: rerank provider rejected %s", types.ErrProviderAuth, EnvAPIKey)
		}
		return nil, fmt.Errorf("%w: rerank provider returned %d", types.ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	order := make([]int, len(parsed.Results))
	for i, r := range parsed.Results {
		order[i] = r.Index
	}
	return order, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
