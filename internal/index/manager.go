// Package index ties the pipeline together: it creates and loads indexes from
// the catalog, and runs ingestion (split, dedup, embed, upsert) and search on
// them.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/indexify/internal/catalog"
	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/splitter"
	"github.com/Aman-CERP/indexify/internal/store"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

// Embedder is the part of the embedding router the manager needs.
type Embedder interface {
	Dimensions(model string) (int, error)
	GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// MaxNameLength bounds index names.
const MaxNameLength = 128

// Names double as directory names and redis key segments.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ManagerConfig contains the dependencies of a Manager.
type ManagerConfig struct {
	// Catalog stores index records.
	Catalog *catalog.Catalog

	// Embedder resolves models and generates vectors.
	Embedder Embedder

	// Stores opens backend stores. New indexes use its default kind.
	Stores *store.Registry

	// Metrics records searches. Optional.
	Metrics *telemetry.QueryMetrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CreateParams describe a new index.
type CreateParams struct {
	Name     string
	Model    string
	Metric   string
	Splitter splitter.Strategy
	// DedupFields are metadata fields hashed into each fragment's key.
	DedupFields []string
}

// Info is a catalog record plus live statistics.
type Info struct {
	catalog.Record
	Count int `json:"count"`
}

// Manager owns the index catalog and a pool of open backend stores.
// The catalog, embedder, and registry are owned by the caller.
type Manager struct {
	catalog  *catalog.Catalog
	embedder Embedder
	stores   *store.Registry
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger

	// lifecycle orders opens against deletes; data operations never take it.
	lifecycle sync.RWMutex

	mu      sync.RWMutex
	handles map[string]*Index
	// busy holds a channel per name while a create or first open runs.
	busy   map[string]chan struct{}
	closed bool

	group singleflight.Group
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("index manager: catalog is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("index manager: embedder is required")
	}
	if cfg.Stores == nil {
		return nil, fmt.Errorf("index manager: store registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		catalog:  cfg.Catalog,
		embedder: cfg.Embedder,
		stores:   cfg.Stores,
		metrics:  cfg.Metrics,
		logger:   logger,
		handles:  make(map[string]*Index),
		busy:     make(map[string]chan struct{}),
	}, nil
}

// ValidateName checks an index name.
func ValidateName(name string) error {
	if name == "" {
		return ixerrors.ValidationError("index name is required", nil)
	}
	if len(name) > MaxNameLength {
		return ixerrors.ValidationError(
			fmt.Sprintf("index name is longer than %d characters", MaxNameLength), nil)
	}
	if !validName.MatchString(name) {
		return ixerrors.ValidationError(fmt.Sprintf("invalid index name %q", name), nil).
			WithSuggestion("Use letters, digits, '.', '_' and '-', starting with a letter or digit")
	}
	return nil
}

// CreateIndex validates p, records the index, and allocates its store.
// Nothing is written unless every parameter is valid. Exactly one of any
// number of concurrent creates for the same name succeeds.
func (m *Manager) CreateIndex(ctx context.Context, p CreateParams) (*Index, error) {
	if err := ValidateName(p.Name); err != nil {
		return nil, err
	}
	dims, err := m.embedder.Dimensions(p.Model)
	if err != nil {
		return nil, err
	}
	metric, err := store.ParseMetric(p.Metric)
	if err != nil {
		return nil, err
	}
	split, err := splitter.Compile(p.Splitter)
	if err != nil {
		return nil, err
	}
	strategy := p.Splitter
	if strategy.Kind == "" {
		strategy = splitter.NewLine()
	}
	fields, err := normalizeFields(p.DedupFields)
	if err != nil {
		return nil, ixerrors.ValidationError(err.Error(), nil)
	}

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.isClosed() {
		return nil, ixerrors.InternalError("index manager is closed", nil)
	}
	unlock, err := m.lockName(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	factory := m.stores.Default()
	rec := catalog.Record{
		Name:        p.Name,
		Model:       p.Model,
		Dimensions:  dims,
		Metric:      string(metric),
		Splitter:    string(strategy.Kind),
		Pattern:     strategy.Pattern,
		DedupFields: fields,
		Backend:     factory.Kind(),
		Location:    factory.Location(p.Name),
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.catalog.Insert(ctx, rec); err != nil {
		return nil, err
	}

	opts := storeOptions(rec)
	// The name is ours now; clear anything a failed delete left behind.
	if err := factory.Remove(ctx, opts); err != nil {
		m.logger.Warn("stale_store_remove_failed",
			slog.String("index", rec.Name),
			slog.String("error", err.Error()))
	}
	vectors, err := factory.Open(ctx, opts)
	if err != nil {
		if _, derr := m.catalog.Delete(context.WithoutCancel(ctx), rec.Name); derr != nil {
			m.logger.Error("index_create_rollback_failed",
				slog.String("index", rec.Name),
				slog.String("error", derr.Error()))
		}
		return nil, ixerrors.BackendError(
			fmt.Sprintf("failed to allocate %s store for index %q", factory.Kind(), rec.Name), err)
	}

	ix := m.newIndex(rec, strategy, split, vectors)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = vectors.Close()
		return nil, ixerrors.InternalError("index manager is closed", nil)
	}
	m.handles[rec.Name] = ix
	m.mu.Unlock()

	m.logger.Info("index_created",
		slog.String("index", rec.Name),
		slog.String("model", rec.Model),
		slog.Int("dimensions", rec.Dimensions),
		slog.String("metric", rec.Metric),
		slog.String("splitter", strategy.String()),
		slog.String("backend", rec.Backend))
	return ix, nil
}

// Load returns the index called name, or nil, nil when it does not exist.
// Concurrent first loads of the same name open the backend store once.
func (m *Manager) Load(ctx context.Context, name string) (*Index, error) {
	m.mu.RLock()
	ix, ok := m.handles[name]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ixerrors.InternalError("index manager is closed", nil)
	}
	if ok {
		return ix, nil
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		return m.open(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

func (m *Manager) open(ctx context.Context, name string) (*Index, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	unlock, err := m.lockName(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.RLock()
	ix, ok := m.handles[name]
	m.mu.RUnlock()
	if ok {
		return ix, nil
	}

	rec, err := m.catalog.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	strategy := splitter.Strategy{Kind: splitter.Kind(rec.Splitter), Pattern: rec.Pattern}
	split, err := splitter.Compile(strategy)
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index %q has an unusable splitter", name), err)
	}
	factory, err := m.stores.Get(rec.Backend)
	if err != nil {
		return nil, ixerrors.BackendError(fmt.Sprintf("index %q cannot be opened", name), err)
	}
	vectors, err := factory.Open(ctx, storeOptions(*rec))
	if err != nil {
		return nil, ixerrors.BackendError(
			fmt.Sprintf("failed to open %s store for index %q", rec.Backend, name), err)
	}

	ix = m.newIndex(*rec, strategy, split, vectors)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = vectors.Close()
		return nil, ixerrors.InternalError("index manager is closed", nil)
	}
	m.handles[name] = ix
	m.mu.Unlock()

	m.logger.Debug("index_loaded",
		slog.String("index", name),
		slog.String("backend", rec.Backend))
	return ix, nil
}

// ListIndexes returns every index record, ordered by name.
func (m *Manager) ListIndexes(ctx context.Context) ([]catalog.Record, error) {
	return m.catalog.List(ctx)
}

// DescribeIndex returns the record and record count of name, or nil, nil
// when it does not exist.
func (m *Manager) DescribeIndex(ctx context.Context, name string) (*Info, error) {
	ix, err := m.Load(ctx, name)
	if err != nil || ix == nil {
		return nil, err
	}
	n, err := ix.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{Record: ix.Record(), Count: n}, nil
}

// IndexStats returns the search statistics of name, or nil, nil when it does
// not exist. Without a metrics collector the statistics are empty.
func (m *Manager) IndexStats(ctx context.Context, name string) (*telemetry.Stats, error) {
	rec, err := m.catalog.Get(ctx, name)
	if err != nil || rec == nil {
		return nil, err
	}
	if m.metrics == nil {
		return telemetry.EmptyStats(name), nil
	}
	return m.metrics.Stats(ctx, name)
}

// DeleteIndex removes name and all its records. It reports false when the
// index did not exist.
func (m *Manager) DeleteIndex(ctx context.Context, name string) (bool, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	rec, err := m.catalog.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if _, err := m.catalog.Delete(ctx, name); err != nil {
		return false, err
	}

	m.mu.Lock()
	ix := m.handles[name]
	delete(m.handles, name)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Forget(name)
	}

	if ix != nil {
		if err := ix.vectors.Close(); err != nil {
			m.logger.Warn("index_close_failed", slog.String("index", name), slog.String("error", err.Error()))
		}
	}

	factory, err := m.stores.Get(rec.Backend)
	if err != nil {
		return true, ixerrors.BackendError(fmt.Sprintf("index %q removed but its storage was not", name), err)
	}
	if err := factory.Remove(ctx, storeOptions(*rec)); err != nil {
		return true, ixerrors.BackendError(fmt.Sprintf("index %q removed but its storage was not", name), err)
	}

	m.logger.Info("index_deleted", slog.String("index", name), slog.String("backend", rec.Backend))
	return true, nil
}

// Close closes every pooled store. Later calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := m.handles
	m.handles = make(map[string]*Index)
	m.mu.Unlock()

	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := handles[name].vectors.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// lockName serializes creates and first opens of one name, so a load never
// sees a record whose store is still being allocated.
func (m *Manager) lockName(ctx context.Context, name string) (func(), error) {
	for {
		m.mu.Lock()
		ch, busy := m.busy[name]
		if !busy {
			ch = make(chan struct{})
			m.busy[name] = ch
			m.mu.Unlock()
			return func() {
				m.mu.Lock()
				delete(m.busy, name)
				m.mu.Unlock()
				close(ch)
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) newIndex(rec catalog.Record, strategy splitter.Strategy, split splitter.Splitter, vectors store.VectorStore) *Index {
	return &Index{
		rec:      rec,
		strategy: strategy,
		split:    split,
		vectors:  vectors,
		embedder: m.embedder,
		metrics:  m.metrics,
		logger:   m.logger,
	}
}

func storeOptions(rec catalog.Record) store.Options {
	return store.Options{
		Index:      rec.Name,
		Dimensions: rec.Dimensions,
		Metric:     store.Metric(rec.Metric),
		Location:   rec.Location,
	}
}
