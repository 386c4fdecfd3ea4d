package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/pkg/version"
)

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// OllamaPoolSize is the idle connection pool size per host.
	OllamaPoolSize = 4
)

// OllamaConfig configures an Ollama backend.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the Ollama model id, e.g. "all-minilm".
	Model string

	// Dimensions is the declared vector length of Model.
	Dimensions int

	// Timeout bounds one HTTP attempt (default: 60s).
	Timeout time.Duration

	// Retry is the backoff policy for transient failures.
	Retry ixerrors.RetryConfig
}

// ollamaEmbedRequest is the /api/embed request.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaBackend generates embeddings through Ollama's HTTP API.
type OllamaBackend struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	breaker   *ixerrors.CircuitBreaker
}

var _ Backend = (*OllamaBackend)(nil)

// NewOllamaBackend creates an Ollama backend. No request is made until first use.
func NewOllamaBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama backend: model must be set")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("ollama backend: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = ixerrors.DefaultRetryConfig()
	}
	cfg.Retry.ShouldRetry = isTransient

	// No client-level timeout: each attempt gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		MaxConnsPerHost:     OllamaPoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &OllamaBackend{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		breaker:   ixerrors.NewCircuitBreaker("ollama:" + cfg.Model),
	}, nil
}

// EmbedBatch embeds texts in a single /api/embed request, retrying transient failures.
func (e *OllamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return ixerrors.Execute(e.breaker, func() ([][]float32, error) {
		attempt := 0
		return ixerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			attempt++
			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()

			vecs, err := e.doEmbed(attemptCtx, texts)
			if err != nil {
				slog.Debug("ollama_embed_attempt_failed",
					slog.String("model", e.cfg.Model),
					slog.Int("attempt", attempt),
					slog.Int("texts", len(texts)),
					slog.String("error", err.Error()))
			}
			return vecs, err
		})
	})
}

func (e *OllamaBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{Provider: "ollama", Code: resp.StatusCode, Body: string(respBody)}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = toFloat32(emb)
	}
	return out, nil
}

// Available checks that Ollama answers and has the model pulled.
func (e *OllamaBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(e.cfg.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return true
		}
	}
	return false
}

// Dimensions returns the declared vector length.
func (e *OllamaBackend) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the Ollama model id.
func (e *OllamaBackend) ModelName() string {
	return e.cfg.Model
}

// Close drops pooled connections.
func (e *OllamaBackend) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}

// statusError is a non-200 answer from a provider.
type statusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, strings.TrimSpace(e.Body))
}

// isTransient decides whether a provider error deserves another attempt.
// Client errors other than 429 are permanent; so is caller cancellation.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}
