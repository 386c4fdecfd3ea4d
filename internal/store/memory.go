package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// KindMemory is the in-process backend.
const KindMemory = "memory"

// memorySnapshot is immutable once published.
type memorySnapshot struct {
	records []Record
	pos     map[string]int
}

// MemoryStore keeps records in an immutable snapshot swapped on every write.
// Queries read the current snapshot without locking, so they never wait on writers.
// Writers are serialised by a mutex; each write copies the snapshot index.
type MemoryStore struct {
	opts Options
	path string // snapshot file, empty for a purely in-process store

	mu     sync.Mutex
	snap   atomic.Pointer[memorySnapshot]
	closed atomic.Bool
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store. A non-empty opts.Location is a directory
// the snapshot is loaded from and saved to after every write.
func NewMemoryStore(opts Options) (*MemoryStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := &MemoryStore{opts: opts}
	s.snap.Store(&memorySnapshot{pos: map[string]int{}})

	if opts.Location != "" {
		s.path = filepath.Join(opts.Location, "vectors.gob")
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Upsert publishes a new snapshot containing records.
func (s *MemoryStore) Upsert(ctx context.Context, records []Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(s.opts.Dimensions, records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	old := s.snap.Load()
	next := &memorySnapshot{
		records: make([]Record, len(old.records), len(old.records)+len(records)),
		pos:     make(map[string]int, len(old.pos)+len(records)),
	}
	copy(next.records, old.records)
	for k, v := range old.pos {
		next.pos[k] = v
	}

	for _, r := range records {
		r = cloneRecord(r)
		if i, ok := next.pos[r.Key]; ok {
			next.records[i] = r
			continue
		}
		next.pos[r.Key] = len(next.records)
		next.records = append(next.records, r)
	}

	return s.publish(next)
}

// Query scans the current snapshot.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkQuery(s.opts.Dimensions, vector, k); err != nil {
		return nil, err
	}

	snap := s.snap.Load()
	matches := make([]Match, 0, len(snap.records))
	for i, r := range snap.records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		matches = append(matches, Match{
			Key:      r.Key,
			Text:     r.Text,
			Metadata: r.Metadata,
			Score:    s.opts.Metric.Score(vector, r.Vector),
		})
	}
	return rank(s.opts.Metric, matches, k), nil
}

// Delete publishes a snapshot without keys.
func (s *MemoryStore) Delete(ctx context.Context, keys []string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	old := s.snap.Load()
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := old.pos[k]; ok {
			drop[k] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	next := &memorySnapshot{
		records: make([]Record, 0, len(old.records)-len(drop)),
		pos:     make(map[string]int, len(old.pos)-len(drop)),
	}
	for _, r := range old.records {
		if drop[r.Key] {
			continue
		}
		next.pos[r.Key] = len(next.records)
		next.records = append(next.records, r)
	}
	return s.publish(next)
}

// publish saves next and makes it current. A failed save leaves the
// previous snapshot in place. Caller holds mu.
func (s *MemoryStore) publish(next *memorySnapshot) error {
	if s.path != "" {
		if err := s.save(next); err != nil {
			return fmt.Errorf("persist memory store: %w", err)
		}
	}
	s.snap.Store(next)
	return nil
}

// Count returns the number of records in the current snapshot.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return len(s.snap.Load().records), nil
}

// Has looks keys up in the current snapshot.
func (s *MemoryStore) Has(_ context.Context, keys []string) ([]bool, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	snap := s.snap.Load()
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = snap.pos[k]
	}
	return out, nil
}

func (s *MemoryStore) Dimensions() int { return s.opts.Dimensions }
func (s *MemoryStore) Metric() Metric  { return s.opts.Metric }

// Close marks the store closed. Writes are already on disk.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed.Store(true)
	return nil
}

// memoryFile is the gob layout of a saved snapshot.
type memoryFile struct {
	Dimensions int
	Metric     Metric
	Records    []Record
}

// save writes snap atomically (temp file + rename). Caller holds mu.
func (s *MemoryStore) save(snap *memorySnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data := memoryFile{Dimensions: s.opts.Dimensions, Metric: s.opts.Metric, Records: snap.records}
	return writeAtomic(s.path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(data)
	})
}

func (s *MemoryStore) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close snapshot file", slog.String("error", err.Error()))
		}
	}()

	var data memoryFile
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	if data.Dimensions != s.opts.Dimensions || data.Metric != s.opts.Metric {
		return fmt.Errorf("snapshot %s was written for %d/%s, index is %d/%s",
			s.path, data.Dimensions, data.Metric, s.opts.Dimensions, s.opts.Metric)
	}

	snap := &memorySnapshot{records: data.Records, pos: make(map[string]int, len(data.Records))}
	for i, r := range data.Records {
		snap.pos[r.Key] = i
	}
	s.snap.Store(snap)
	return nil
}

// MemoryFactory opens memory stores. With a root directory, snapshots
// persist under root/<index>; without one, data lives only in the process.
type MemoryFactory struct {
	root string

	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryFactory creates a factory rooted at root (may be empty).
func NewMemoryFactory(root string) *MemoryFactory {
	return &MemoryFactory{root: root, stores: make(map[string]*MemoryStore)}
}

func (f *MemoryFactory) Kind() string { return KindMemory }

func (f *MemoryFactory) Location(index string) string {
	if f.root == "" {
		return ""
	}
	return filepath.Join(f.root, index)
}

// Open returns the live store for opts.Index, creating it on first use.
// A purely in-process store must outlive handle closes, so the factory keeps it.
func (f *MemoryFactory) Open(_ context.Context, opts Options) (VectorStore, error) {
	if opts.Location != "" {
		return NewMemoryStore(opts)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[opts.Index]; ok && !s.closed.Load() {
		return s, nil
	}
	if s, ok := f.stores[opts.Index]; ok {
		// Reopen with the records of the closed handle.
		next, err := NewMemoryStore(opts)
		if err != nil {
			return nil, err
		}
		next.snap.Store(s.snap.Load())
		f.stores[opts.Index] = next
		return next, nil
	}
	s, err := NewMemoryStore(opts)
	if err != nil {
		return nil, err
	}
	f.stores[opts.Index] = s
	return s, nil
}

func (f *MemoryFactory) Remove(_ context.Context, opts Options) error {
	f.mu.Lock()
	delete(f.stores, opts.Index)
	f.mu.Unlock()
	if opts.Location == "" {
		return nil
	}
	return os.RemoveAll(opts.Location)
}
