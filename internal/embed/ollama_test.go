package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

func fastRetry() ixerrors.RetryConfig {
	return ixerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2}
}

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// TS01: EmbedBatch posts every text in one /api/embed request
func TestOllamaBackend_EmbedBatch(t *testing.T) {
	// Given: a fake Ollama answering with one vector per input
	var got ollamaEmbedRequest
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := ollamaEmbedResponse{Model: got.Model}
		for i := range got.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	b, err := NewOllamaBackend(OllamaConfig{Host: srv.URL, Model: "all-minilm", Dimensions: 3, Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	// When: embedding two texts
	vecs, err := b.EmbedBatch(context.Background(), []string{"a", "b"})

	// Then: the request carried both and vectors come back in order
	require.NoError(t, err)
	assert.Equal(t, "all-minilm", got.Model)
	assert.Equal(t, []string{"a", "b"}, got.Input)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}}, vecs)
}

// TS02: Server errors are retried, client errors are not
func TestOllamaBackend_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 2}}})
	})

	b, err := NewOllamaBackend(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, Retry: fastRetry()})
	require.NoError(t, err)

	vecs, err := b.EmbedBatch(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, vecs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaBackend_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	b, err := NewOllamaBackend(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = b.EmbedBatch(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaBackend_RejectsShortResponse(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1}}})
	})

	b, err := NewOllamaBackend(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 1,
		Retry: ixerrors.RetryConfig{MaxRetries: 0, Multiplier: 2}})
	require.NoError(t, err)

	_, err = b.EmbedBatch(context.Background(), []string{"x", "y"})
	assert.Error(t, err)
}

// TS03: Available requires the model to be pulled
func TestOllamaBackend_Available(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"all-minilm:latest"},{"name":"nomic-embed-text:v1.5"}]}`))
	})

	present, err := NewOllamaBackend(OllamaConfig{Host: srv.URL + "/", Model: "all-minilm", Dimensions: 384})
	require.NoError(t, err)
	missing, err := NewOllamaBackend(OllamaConfig{Host: srv.URL, Model: "mxbai-embed-large", Dimensions: 1024})
	require.NoError(t, err)

	assert.True(t, present.Available(context.Background()))
	assert.False(t, missing.Available(context.Background()))
}

func TestOllamaBackend_Available_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := NewOllamaBackend(OllamaConfig{Host: url, Model: "m", Dimensions: 2})
	require.NoError(t, err)

	assert.False(t, b.Available(context.Background()))
}

func TestNewOllamaBackend_Validation(t *testing.T) {
	_, err := NewOllamaBackend(OllamaConfig{Dimensions: 2})
	assert.Error(t, err)

	_, err = NewOllamaBackend(OllamaConfig{Model: "m"})
	assert.Error(t, err)

	b, err := NewOllamaBackend(OllamaConfig{Model: "m", Dimensions: 2})
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaHost, b.cfg.Host)
	assert.Equal(t, DefaultRequestTimeout, b.cfg.Timeout)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(&statusError{Code: http.StatusBadRequest}))
	assert.True(t, isTransient(&statusError{Code: http.StatusTooManyRequests}))
	assert.True(t, isTransient(&statusError{Code: http.StatusBadGateway}))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
