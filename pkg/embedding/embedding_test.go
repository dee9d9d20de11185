package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestHashProviderIsDeterministic(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, []string{"payment batch failed"})
	require.NoError(t, err)
	b, err := p.Embed(ctx, []string{"payment batch failed"})
	require.NoError(t, err)

	require.Len(t, a[0], 64)
	assert.Equal(t, a[0], b[0])

	// Unit length within float tolerance.
	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestHashProviderDistinguishesTexts(t *testing.T) {
	p := NewHashProvider(0)
	assert.Equal(t, DefaultHashDimensions, p.Dimensions())

	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Less(t, cosine(vecs[0], vecs[1]), 0.5)
}

type countingProvider struct {
	Provider
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.Provider.Embed(ctx, texts)
}

func TestCacheServesRepeatsWithoutProviderCalls(t *testing.T) {
	inner := &countingProvider{Provider: NewHashProvider(32)}
	cache, err := NewCache(inner, CacheConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cache.Embed(ctx, []string{"one", "two"})
	require.NoError(t, err)
	second, err := cache.Embed(ctx, []string{"one", "two"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
}

func TestCachePartialHitBatchesOnlyMisses(t *testing.T) {
	inner := &countingProvider{Provider: NewHashProvider(32)}
	cache, err := NewCache(inner, CacheConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.Embed(ctx, []string{"one"})
	require.NoError(t, err)
	vecs, err := cache.Embed(ctx, []string{"one", "two"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	assert.NotNil(t, vecs[0])
	assert.NotNil(t, vecs[1])
	assert.Equal(t, 2, inner.calls)
}

func TestCacheDiskLayerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	warm := &countingProvider{Provider: NewHashProvider(32)}
	cache, err := NewCache(warm, CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	original, err := cache.Embed(ctx, []string{"persisted"})
	require.NoError(t, err)

	// A fresh cache over the same directory never reaches the provider.
	cold := &countingProvider{Provider: NewHashProvider(32)}
	reopened, err := NewCache(cold, CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	restored, err := reopened.Embed(ctx, []string{"persisted"})
	require.NoError(t, err)

	assert.Equal(t, original, restored)
	assert.Zero(t, cold.calls)
}

func TestOpenAIProviderParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		// Return vectors out of order; index must win.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		Endpoint: server.URL, Model: "test-model", Dimensions: 2,
	}, server.Client())
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestOpenAIProviderSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		Endpoint: server.URL, Model: "m", Dimensions: 2,
	}, server.Client())
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func indexedException(id, tenantID, excType string) *models.Exception {
	return &models.Exception{
		ExceptionID:   id,
		TenantID:      tenantID,
		SourceSystem:  "payments",
		ExceptionType: excType,
		NormalizedContext: map[string]any{
			"domain": "billing",
		},
	}
}

func TestIndexCountsRecurrences(t *testing.T) {
	idx := NewIndex(NewHashProvider(64), 0)
	ctx := context.Background()

	count, err := idx.SimilarCount(ctx, indexedException("EXC-1", "t1", "DataQualityFailure"))
	require.NoError(t, err)
	assert.Zero(t, count)

	// Same shape, different id: one recurrence.
	count, err = idx.SimilarCount(ctx, indexedException("EXC-2", "t1", "DataQualityFailure"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A different type does not match.
	count, err = idx.SimilarCount(ctx, indexedException("EXC-3", "t1", "ReconMismatch"))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 3, idx.Size("t1"))
}

func TestIndexIsTenantScoped(t *testing.T) {
	idx := NewIndex(NewHashProvider(64), 0)
	ctx := context.Background()

	_, err := idx.SimilarCount(ctx, indexedException("EXC-1", "t1", "DataQualityFailure"))
	require.NoError(t, err)

	count, err := idx.SimilarCount(ctx, indexedException("EXC-1", "t2", "DataQualityFailure"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexDoesNotReindexSameException(t *testing.T) {
	idx := NewIndex(NewHashProvider(64), 0)
	ctx := context.Background()

	exc := indexedException("EXC-1", "t1", "DataQualityFailure")
	_, err := idx.SimilarCount(ctx, exc)
	require.NoError(t, err)
	count, err := idx.SimilarCount(ctx, exc)
	require.NoError(t, err)

	// A redelivered event must not count itself.
	assert.Zero(t, count)
	assert.Equal(t, 1, idx.Size("t1"))
}

func TestExceptionTextIsDeterministic(t *testing.T) {
	exc := &models.Exception{
		SourceSystem:  "payments",
		ExceptionType: "DataQualityFailure",
		NormalizedContext: map[string]any{
			"b": 2, "a": 1,
		},
	}
	assert.Equal(t, "payments DataQualityFailure a=1 b=2", ExceptionText(exc))
}

func TestCosineBounds(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
}
