package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/pkg/version"
)

// DefaultOpenAIBaseURL is the OpenAI API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible embeddings backend.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int

	// RequestsPerSecond throttles requests. 0 disables throttling.
	RequestsPerSecond float64

	Timeout time.Duration
	Retry   ixerrors.RetryConfig
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIBackend calls POST /embeddings on an OpenAI-compatible API.
type OpenAIBackend struct {
	client  *http.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	breaker *ixerrors.CircuitBreaker
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend creates an OpenAI backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend: model must be set")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai backend: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.APIKey == "" {
		return nil, ixerrors.ConfigError(fmt.Sprintf("openai model %q has no api key", cfg.Model), nil).
			WithSuggestion("Set INDEXIFY_OPENAI_API_KEY or api_key in the model config")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = ixerrors.DefaultRetryConfig()
	}
	cfg.Retry.ShouldRetry = isTransient

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAIBackend{
		client:  &http.Client{},
		cfg:     cfg,
		limiter: limiter,
		breaker: ixerrors.NewCircuitBreaker("openai:" + cfg.Model),
	}, nil
}

// EmbedBatch embeds texts in one request. Every attempt waits for the rate limiter.
func (e *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return ixerrors.Execute(e.breaker, func() ([][]float32, error) {
		return ixerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()

			vecs, err := e.doEmbed(attemptCtx, texts)
			if err != nil {
				slog.Debug("openai_embed_attempt_failed",
					slog.String("model", e.cfg.Model),
					slog.Int("texts", len(texts)),
					slog.String("error", err.Error()))
			}
			return vecs, err
		})
	})
}

func (e *OpenAIBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{
		Model:      e.cfg.Model,
		Input:      texts,
		Dimensions: e.requestDimensions(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{Provider: "openai", Code: resp.StatusCode, Body: string(respBody)}
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(result.Data), len(texts))
	}

	// Items carry their input index; do not trust response order.
	out := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			return nil, fmt.Errorf("openai returned invalid embedding index %d", item.Index)
		}
		out[item.Index] = toFloat32(item.Embedding)
	}
	return out, nil
}

// requestDimensions asks text-embedding-3 models for a shortened vector.
// Older models reject the parameter.
func (e *OpenAIBackend) requestDimensions() int {
	if strings.HasPrefix(e.cfg.Model, "text-embedding-3") {
		return e.cfg.Dimensions
	}
	return 0
}

// Available reports whether the circuit lets requests through.
// A probe request would spend quota, so none is made.
func (e *OpenAIBackend) Available(_ context.Context) bool {
	return e.breaker.Allow()
}

// Dimensions returns the declared vector length.
func (e *OpenAIBackend) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the provider model id.
func (e *OpenAIBackend) ModelName() string {
	return e.cfg.Model
}

// Close drops idle connections.
func (e *OpenAIBackend) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
