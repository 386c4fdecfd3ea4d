package embed

import (
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/indexify/internal/config"
)

// NewBackend builds the backend for one configured model.
// A positive cacheSize wraps it in an LRU cache.
func NewBackend(mc config.ModelConfig, cacheSize int) (Backend, error) {
	var (
		b   Backend
		err error
	)

	switch mc.Provider {
	case config.ProviderStatic:
		b, err = NewStaticBackend(mc.ProviderModel(), mc.Dimensions)
	case config.ProviderOllama:
		b, err = NewOllamaBackend(OllamaConfig{
			Host:       mc.Host,
			Model:      mc.ProviderModel(),
			Dimensions: mc.Dimensions,
			Timeout:    mc.Timeout,
		})
	case config.ProviderOpenAI:
		b, err = NewOpenAIBackend(OpenAIConfig{
			BaseURL:           mc.Host,
			APIKey:            mc.APIKey,
			Model:             mc.ProviderModel(),
			Dimensions:        mc.Dimensions,
			RequestsPerSecond: mc.RequestsPerSecond,
			Timeout:           mc.Timeout,
		})
	default:
		return nil, fmt.Errorf("model %q: unknown provider %q", mc.Name, mc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", mc.Name, err)
	}

	// Static vectors are computed in microseconds; caching them only costs memory.
	if cacheSize > 0 && mc.Provider != config.ProviderStatic {
		b = NewCachedBackend(b, cacheSize)
	}
	return b, nil
}

// NewRouterFromConfig builds a router with every configured model registered
// in configuration order. Backends already created are closed on failure.
func NewRouterFromConfig(cfg config.EmbeddingsConfig, logger *slog.Logger) (*Router, error) {
	r := NewRouter(
		WithBatchSize(cfg.BatchSize),
		WithConcurrency(cfg.Concurrency),
		WithCallTimeout(cfg.CallTimeout),
		WithLogger(logger),
	)

	for _, mc := range cfg.Models {
		b, err := NewBackend(mc, cfg.CacheSize)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if err := r.Register(mc.Name, b); err != nil {
			_ = b.Close()
			_ = r.Close()
			return nil, err
		}
		if logger != nil {
			logger.Debug("embedding_model_registered",
				slog.String("model", mc.Name),
				slog.String("provider", mc.Provider),
				slog.Int("dimensions", mc.Dimensions))
		}
	}
	return r, nil
}
