package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Requests carry auth and results are placed by index
func TestOpenAIBackend_EmbedBatch_OrdersByIndex(t *testing.T) {
	// Given: a server that answers data items in reverse order
	var got openAIEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[2,2],"index":1},{"embedding":[1,1],"index":0}]}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "sk-test",
		Model:      "text-embedding-3-small",
		Dimensions: 2,
		Retry:      fastRetry(),
	})
	require.NoError(t, err)

	// When: embedding two texts
	vecs, err := b.EmbedBatch(context.Background(), []string{"first", "second"})

	// Then: vectors are in input order and dimensions were requested
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)
	assert.Equal(t, 2, got.Dimensions)
	assert.Equal(t, []string{"first", "second"}, got.Input)
}

func TestOpenAIBackend_OmitsDimensionsForLegacyModels(t *testing.T) {
	b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "k", Model: "text-embedding-ada-002", Dimensions: 1536})
	require.NoError(t, err)

	assert.Equal(t, 0, b.requestDimensions())
	assert.Equal(t, DefaultOpenAIBaseURL, b.cfg.BaseURL)
}

func TestOpenAIBackend_RejectsDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimensions: 1, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = b.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOpenAIBackend_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimensions: 1, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = b.EmbedBatch(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewOpenAIBackend_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIBackend(OpenAIConfig{Model: "m", Dimensions: 2})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no api key")
}

func TestOpenAIBackend_RateLimiterHonoursCancellation(t *testing.T) {
	b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "k", Model: "m", Dimensions: 1, RequestsPerSecond: 0.001})
	require.NoError(t, err)
	// Drain the single burst token.
	require.True(t, b.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}
