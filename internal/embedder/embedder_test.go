package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemem/codemem/pkg/types"
)

// fakeProvider captures requests and serves canned embedding responses.
type fakeProvider struct {
	t         *testing.T
	dimension int
	calls     []embedCall

	// dropIndices are input positions (per call) omitted from the response.
	dropIndices map[int]bool
	status      int
	body        string
}

type embedCall struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
	Task  string   `json:"task"`
}

func (f *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	var call embedCall
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&call))
	f.calls = append(f.calls, call)

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	var data []item
	for i := range call.Input {
		if f.dropIndices[i] {
			continue
		}
		vec := make([]float32, f.dimension)
		vec[0] = float32(i + 1)
		data = append(data, item{Embedding: vec, Index: i})
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func newTestProvider(t *testing.T, fake *fakeProvider) (*httpProvider, func()) {
	t.Helper()
	fake.t = t
	if fake.dimension == 0 {
		fake.dimension = 4
	}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))

	p, err := newHTTPProvider("jina", srv.URL, "test-key", "JINA_API_KEY",
		DefaultJinaModel, fake.dimension, true, nil)
	require.NoError(t, err)
	return p, srv.Close
}

func TestEmbedDocumentsAligned(t *testing.T) {
	fake := &fakeProvider{}
	p, done := newTestProvider(t, fake)
	defer done()

	res, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, res.Vectors, 3)
	assert.Empty(t, res.Failed)
	assert.NoError(t, res.Mismatch())

	// Vectors come back in input order
	for i, v := range res.Vectors {
		require.Len(t, v, 4)
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestShortBatchFlagsMissingEntries(t *testing.T) {
	// Provider answers 8 of 10: output stays length 10 with the two holes
	// explicitly flagged
	fake := &fakeProvider{dropIndices: map[int]bool{3: true, 7: true}}
	p, done := newTestProvider(t, fake)
	defer done()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	res, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, res.Vectors, 10)
	assert.Equal(t, []int{3, 7}, res.Failed)
	assert.Nil(t, res.Vectors[3])
	assert.Nil(t, res.Vectors[7])
	assert.NotNil(t, res.Vectors[0])

	err = res.Mismatch()
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "2 of 10")
}

func TestLargeBatchSplit(t *testing.T) {
	fake := &fakeProvider{}
	p, done := newTestProvider(t, fake)
	defer done()

	texts := make([]string, MaxBatchSize*2+10)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	res, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0].Input, MaxBatchSize)
	assert.Len(t, fake.calls[2].Input, 10)
}

func TestAuthErrorIsActionable(t *testing.T) {
	fake := &fakeProvider{status: http.StatusUnauthorized, body: `{"detail":"bad key"}`}
	p, done := newTestProvider(t, fake)
	defer done()

	_, err := p.EmbedDocuments(context.Background(), []string{"text"})
	require.ErrorIs(t, err, types.ErrProviderAuth)
	assert.Contains(t, err.Error(), "JINA_API_KEY")

	// Permanent: no retries were attempted
	assert.Len(t, fake.calls, 1)
	assert.NotEmpty(t, types.Remediation(err))
}

func TestModeRouting(t *testing.T) {
	fake := &fakeProvider{}
	p, done := newTestProvider(t, fake)
	defer done()

	_, err := p.EmbedDocuments(context.Background(), []string{"doc text"})
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "query text")
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "retrieval.passage", fake.calls[0].Task)
	assert.Equal(t, "retrieval.query", fake.calls[1].Task)
}

func TestCacheSkipsProviderCalls(t *testing.T) {
	fake := &fakeProvider{}
	p, done := newTestProvider(t, fake)
	defer done()
	p.cache = NewCache(16)

	_, err := p.EmbedDocuments(context.Background(), []string{"repeat me"})
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), []string{"repeat me"})
	require.NoError(t, err)
	assert.Len(t, fake.calls, 1)

	// Query mode keys separately from document mode
	_, err = p.EmbedQuery(context.Background(), "repeat me")
	require.NoError(t, err)
	assert.Len(t, fake.calls, 2)
}

func TestValidateTexts(t *testing.T) {
	fake := &fakeProvider{}
	p, done := newTestProvider(t, fake)
	defer done()

	_, err := p.EmbedDocuments(context.Background(), nil)
	assert.Error(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Empty(t, fake.calls)
}

func TestLocalProviderDeterministic(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	a, err := p.EmbedQuery(context.Background(), "authentication flow")
	require.NoError(t, err)
	b, err := p.EmbedQuery(context.Background(), "authentication flow")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, LocalDimension)

	// Shared vocabulary embeds closer than unrelated text
	docs, err := p.EmbedDocuments(context.Background(), []string{
		"jwt authentication and login",
		"binary tree rotation",
	})
	require.NoError(t, err)
	simRelated := dot(a, docs.Vectors[0])
	simUnrelated := dot(a, docs.Vectors[1])
	assert.Greater(t, simRelated, simUnrelated)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i] * b[i])
	}
	return sum
}
