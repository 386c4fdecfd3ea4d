package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// KindHNSW is the coder/hnsw graph backend.
const KindHNSW = "hnsw"

const (
	hnswGraphFile = "graph.hnsw"
	hnswMetaFile  = "graph.hnsw.meta"

	// negativeDotName registers the dot-product distance so graphs can be exported.
	negativeDotName = "indexify_negative_dot"
)

func init() {
	hnsw.RegisterDistanceFunc(negativeDotName, negativeDot)
}

// negativeDot turns inner product into a distance: larger products sort first.
func negativeDot(a, b []float32) float32 {
	return -dot(a, b)
}

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// M is max connections per layer (default: 16).
	M int
	// EfSearch is query-time search width (default: 64).
	EfSearch int
}

// hnswEntry is what the graph node key points at.
type hnswEntry struct {
	Key      string
	Text     string
	Metadata map[string]string
}

// HNSWStore implements VectorStore using coder/hnsw pure Go HNSW implementation.
// Replaced and deleted records stay in the graph as orphans until compaction.
type HNSWStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	opts  Options
	cfg   HNSWConfig
	dir   string

	// ID mapping (dedup key <-> graph key)
	idMap   map[string]uint64
	entries map[uint64]hnswEntry
	nextKey uint64

	closed bool
}

// hnswMetadata stores ID mappings for persistence.
type hnswMetadata struct {
	IDMap      map[string]uint64
	Entries    map[uint64]hnswEntry
	NextKey    uint64
	Dimensions int
	Metric     Metric
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates or loads an HNSW store. An empty opts.Location keeps it in memory.
func NewHNSWStore(opts Options, cfg HNSWConfig) (*HNSWStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	s := &HNSWStore{
		graph:   newGraph(opts.Metric, cfg),
		opts:    opts,
		cfg:     cfg,
		dir:     opts.Location,
		idMap:   make(map[string]uint64),
		entries: make(map[uint64]hnswEntry),
	}
	if s.dir != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newGraph(metric Metric, cfg HNSWConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case MetricCosine:
		// Vectors are normalised on the way in, so cosine distance is 1 - dot.
		graph.Distance = hnsw.CosineDistance
	case MetricEuclidean:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = negativeDot
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Upsert adds records as new graph nodes and re-points their keys.
// If persisting fails the previous key mapping is restored.
func (s *HNSWStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(s.opts.Dimensions, records); err != nil {
		return err
	}
	records = lastWins(records)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	previous := make(map[string]uint64, len(records))
	nodes := make([]hnsw.Node[uint64], 0, len(records))
	for _, r := range records {
		if old, ok := s.idMap[r.Key]; ok {
			previous[r.Key] = old
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		if s.opts.Metric == MetricCosine {
			normalizeVectorInPlace(vec)
		}
		nodes = append(nodes, hnsw.MakeNode(key, vec))

		s.idMap[r.Key] = key
		s.entries[key] = hnswEntry{Key: r.Key, Text: r.Text, Metadata: cloneRecord(r).Metadata}
	}
	replaced := make(map[uint64]hnswEntry, len(previous))
	for _, old := range previous {
		replaced[old] = s.entries[old]
		delete(s.entries, old)
	}
	s.graph.Add(nodes...)

	if err := s.persist(); err != nil {
		// The new nodes become orphans; the old records are visible again.
		for _, n := range nodes {
			e := s.entries[n.Key]
			delete(s.entries, n.Key)
			delete(s.idMap, e.Key)
		}
		for key, old := range previous {
			s.idMap[key] = old
			s.entries[old] = replaced[old]
		}
		return fmt.Errorf("persist hnsw graph: %w", err)
	}

	s.maybeCompact()
	return nil
}

// Query searches the graph, over-fetching to skip orphans.
func (s *HNSWStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := checkQuery(s.opts.Dimensions, vector, k); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.idMap) == 0 {
		return []Match{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if s.opts.Metric == MetricCosine {
		normalizeVectorInPlace(query)
	}

	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(query, min(k+orphans, s.graph.Len()))

	matches := make([]Match, 0, min(k, len(nodes)))
	for _, node := range nodes {
		e, ok := s.entries[node.Key]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Key:      e.Key,
			Text:     e.Text,
			Metadata: e.Metadata,
			Score:    s.opts.Metric.Score(query, node.Value),
		})
	}
	return rank(s.opts.Metric, matches, k), nil
}

// Delete removes vectors by key.
// Uses lazy deletion to avoid coder/hnsw issues with deleting the last node.
func (s *HNSWStore) Delete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	removed := make(map[string]uint64)
	for _, key := range keys {
		if gk, ok := s.idMap[key]; ok {
			removed[key] = gk
		}
	}
	if len(removed) == 0 {
		return nil
	}

	entries := make(map[uint64]hnswEntry, len(removed))
	for key, gk := range removed {
		entries[gk] = s.entries[gk]
		delete(s.idMap, key)
		delete(s.entries, gk)
	}
	if err := s.persist(); err != nil {
		for key, gk := range removed {
			s.idMap[key] = gk
			s.entries[gk] = entries[gk]
		}
		return fmt.Errorf("persist hnsw graph: %w", err)
	}
	return nil
}

// Count returns number of live records.
func (s *HNSWStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.idMap), nil
}

func (s *HNSWStore) Has(_ context.Context, keys []string) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = s.idMap[k]
	}
	return out, nil
}

func (s *HNSWStore) Dimensions() int { return s.opts.Dimensions }
func (s *HNSWStore) Metric() Metric  { return s.opts.Metric }

// HNSWStats contains HNSW store statistics including orphan count.
type HNSWStats struct {
	ValidIDs   int // Live records
	GraphNodes int // Total nodes in the graph, orphans included
	Orphans    int // GraphNodes - ValidIDs
}

// Stats returns graph statistics.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: len(s.idMap), GraphNodes: nodes, Orphans: nodes - len(s.idMap)}
}

// Compact rebuilds the graph from live nodes only.
func (s *HNSWStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compact()
}

// maybeCompact rebuilds once orphans outnumber live records. Caller holds mu.
func (s *HNSWStore) maybeCompact() {
	orphans := s.graph.Len() - len(s.idMap)
	if orphans < 1024 || orphans < len(s.idMap) {
		return
	}
	if err := s.compact(); err != nil {
		slog.Warn("hnsw_compaction_failed",
			slog.String("index", s.opts.Index),
			slog.String("error", err.Error()))
	}
}

func (s *HNSWStore) compact() error {
	graph := newGraph(s.opts.Metric, s.cfg)
	nodes := make([]hnsw.Node[uint64], 0, len(s.idMap))
	for _, gk := range s.idMap {
		vec, ok := s.graph.Lookup(gk)
		if !ok {
			return fmt.Errorf("graph node %d missing during compaction", gk)
		}
		nodes = append(nodes, hnsw.MakeNode(gk, vec))
	}
	if len(nodes) > 0 {
		graph.Add(nodes...)
	}

	before := s.graph.Len()
	old := s.graph
	s.graph = graph
	if err := s.persist(); err != nil {
		s.graph = old
		return err
	}
	slog.Debug("hnsw_compacted",
		slog.String("index", s.opts.Index),
		slog.Int("nodes_before", before),
		slog.Int("nodes_after", graph.Len()))
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// coder/hnsw Graph doesn't need explicit cleanup
	s.graph = nil
	return nil
}

// persist saves graph and mappings. Caller holds mu.
func (s *HNSWStore) persist() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	graphPath := filepath.Join(s.dir, hnswGraphFile)
	if s.graph.Len() == 0 {
		if err := os.Remove(graphPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := writeAtomic(graphPath, s.graph.Export); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{
		IDMap:      s.idMap,
		Entries:    s.entries,
		NextKey:    s.nextKey,
		Dimensions: s.opts.Dimensions,
		Metric:     s.opts.Metric,
	}
	return writeAtomic(filepath.Join(s.dir, hnswMetaFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
}

// load restores a persisted store. A missing directory is a fresh store.
func (s *HNSWStore) load() error {
	metaPath := filepath.Join(s.dir, hnswMetaFile)
	mf, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open hnsw metadata: %w", err)
	}
	defer func() {
		if err := mf.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.Dimensions != s.opts.Dimensions || meta.Metric != s.opts.Metric {
		return fmt.Errorf("hnsw store at %s was built for %d/%s, index is %d/%s",
			s.dir, meta.Dimensions, meta.Metric, s.opts.Dimensions, s.opts.Metric)
	}

	gf, err := os.Open(filepath.Join(s.dir, hnswGraphFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("failed to open index file: %w", err)
	default:
		defer func() { _ = gf.Close() }()
		// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
		if err := s.graph.Import(bufio.NewReader(gf)); err != nil {
			return fmt.Errorf("failed to import graph: %w", err)
		}
		s.graph.EfSearch = s.cfg.EfSearch
	}

	s.idMap = meta.IDMap
	s.entries = meta.Entries
	s.nextKey = meta.NextKey
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	if s.entries == nil {
		s.entries = make(map[uint64]hnswEntry)
	}
	return nil
}

// HNSWFactory opens HNSW stores under root/<index>.
type HNSWFactory struct {
	root string
	cfg  HNSWConfig
}

// NewHNSWFactory creates a factory. An empty root keeps graphs in memory.
func NewHNSWFactory(root string, cfg HNSWConfig) *HNSWFactory {
	return &HNSWFactory{root: root, cfg: cfg}
}

func (f *HNSWFactory) Kind() string { return KindHNSW }

func (f *HNSWFactory) Location(index string) string {
	if f.root == "" {
		return ""
	}
	return filepath.Join(f.root, index)
}

func (f *HNSWFactory) Open(_ context.Context, opts Options) (VectorStore, error) {
	return NewHNSWStore(opts, f.cfg)
}

func (f *HNSWFactory) Remove(_ context.Context, opts Options) error {
	if opts.Location == "" {
		return nil
	}
	return os.RemoveAll(opts.Location)
}
