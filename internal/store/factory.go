package store

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/Aman-CERP/indexify/internal/config"
)

// Registry holds one factory per backend kind. New indexes use the default
// kind; existing indexes reopen with the kind recorded in the catalog.
type Registry struct {
	def       string
	factories map[string]Factory
}

// NewRegistry creates a registry. defaultKind must be among factories.
func NewRegistry(defaultKind string, factories ...Factory) (*Registry, error) {
	r := &Registry{def: defaultKind, factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		if _, dup := r.factories[f.Kind()]; dup {
			return nil, fmt.Errorf("duplicate vector backend %q", f.Kind())
		}
		r.factories[f.Kind()] = f
	}
	if _, ok := r.factories[defaultKind]; !ok {
		return nil, fmt.Errorf("unknown vector backend %q (available: %v)", defaultKind, r.Kinds())
	}
	return r, nil
}

// NewRegistryFromConfig registers every backend, rooted under dataDir/vectors.
// An empty dataDir keeps file backends in memory.
func NewRegistryFromConfig(cfg config.VectorStoreConfig, dataDir string) (*Registry, error) {
	root := func(kind string) string {
		if dataDir == "" {
			return ""
		}
		return filepath.Join(dataDir, "vectors", kind)
	}
	return NewRegistry(cfg.Backend,
		NewSQLiteFactory(root(KindSQLite)),
		NewHNSWFactory(root(KindHNSW), HNSWConfig{M: cfg.HNSW.M, EfSearch: cfg.HNSW.EfSearch}),
		NewMemoryFactory(root(KindMemory)),
		NewRedisFactory(RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}),
	)
}

// Default returns the factory for new indexes.
func (r *Registry) Default() Factory {
	return r.factories[r.def]
}

// Get returns the factory for kind.
func (r *Registry) Get(kind string) (Factory, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown vector backend %q", kind)
	}
	return f, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Close closes factories that hold connections.
func (r *Registry) Close() error {
	var errs []error
	for _, kind := range r.Kinds() {
		if c, ok := r.factories[kind].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s backend: %w", kind, err))
			}
		}
	}
	return errors.Join(errs...)
}
