package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// Router maps model names to backends.
// It batches and bounds calls but never caches or retries on its own.
type Router struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]Backend

	batchSize   int
	concurrency int
	callTimeout time.Duration
	logger      *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithBatchSize sets how many texts go to a backend per request.
func WithBatchSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.batchSize = min(n, MaxBatchSize)
		}
	}
}

// WithConcurrency sets how many batches of one call run at once.
func WithConcurrency(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithCallTimeout sets the deadline applied to every GenerateEmbeddings call.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		backends:    make(map[string]Backend),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend under name. Registration order is catalog order.
func (r *Router) Register(name string, b Backend) error {
	if name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if b == nil {
		return fmt.Errorf("model %q: nil backend", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; ok {
		return fmt.Errorf("model %q already registered", name)
	}
	r.backends[name] = b
	r.order = append(r.order, name)
	return nil
}

// ListModels returns model names in configuration order.
func (r *Router) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Models returns the catalog with dimensions, in configuration order.
func (r *Router) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, ModelInfo{Name: name, Dimensions: r.backends[name].Dimensions()})
	}
	return out
}

// Dimensions returns the vector length of model.
func (r *Router) Dimensions(model string) (int, error) {
	b, err := r.backend(model)
	if err != nil {
		return 0, err
	}
	return b.Dimensions(), nil
}

// Available reports whether model's backend answers.
func (r *Router) Available(ctx context.Context, model string) bool {
	b, err := r.backend(model)
	return err == nil && b.Available(ctx)
}

func (r *Router) backend(model string) (Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[model]
	r.mu.RUnlock()
	if !ok {
		return nil, ixerrors.UnknownModel(model)
	}
	return b, nil
}

// GenerateEmbeddings embeds texts with model, one vector per text in input order.
// The call runs under the router's deadline; the first failing batch cancels
// the others and no partial result is returned.
func (r *Router) GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	b, err := r.backend(model)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for lo := 0; lo < len(texts); lo += r.batchSize {
		if gctx.Err() != nil {
			break
		}
		hi := min(lo+r.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := b.EmbedBatch(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), hi-lo)
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = fmt.Errorf("embedding call exceeded %s: %w", r.callTimeout, err)
		}
		r.logger.Warn("embedding_failed",
			slog.String("model", model),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
		return nil, ixerrors.BackendError(fmt.Sprintf("embedding model %q failed: %v", model, err), err).
			WithDetail("model", model)
	}
	if err := ctx.Err(); err != nil {
		return nil, ixerrors.BackendError(fmt.Sprintf("embedding model %q: %v", model, err), err)
	}

	r.logger.Debug("embeddings_generated",
		slog.String("model", model),
		slog.Int("texts", len(texts)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Close closes every backend.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range r.order {
		if err := r.backends[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
