// Package store provides the vector store backends behind an index:
// an in-process snapshot store, an HNSW graph, SQLite and Redis.
// Every store is scoped to one index's dimension and metric.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// Metric is the similarity measure an index ranks by.
type Metric string

const (
	// MetricDot is the raw inner product. Higher is better.
	MetricDot Metric = "dot"
	// MetricCosine is the inner product of L2-normalised vectors. Higher is better.
	MetricCosine Metric = "cosine"
	// MetricEuclidean is the L2 distance. Lower is better.
	MetricEuclidean Metric = "euclidean"
)

// Metrics lists the supported metrics.
func Metrics() []Metric {
	return []Metric{MetricDot, MetricCosine, MetricEuclidean}
}

// ParseMetric parses a metric name, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", ixerrors.InvalidMetric(s)
	}
	return m, nil
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return slices.Contains(Metrics(), m)
}

// String returns the wire name.
func (m Metric) String() string {
	return string(m)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("vector store is closed")

// Record is one stored fragment.
type Record struct {
	// Key is the dedup key. Upserting an existing key replaces the record.
	Key      string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// Match is one query result, best first.
type Match struct {
	Key      string
	Text     string
	Metadata map[string]string
	// Score is the metric value: similarity for dot and cosine, distance for euclidean.
	Score float32
}

// Options describe the store behind one index.
type Options struct {
	// Index is the owning index name.
	Index      string
	Dimensions int
	Metric     Metric
	// Location is backend specific: a directory for file backends, a key prefix for redis.
	Location string
}

// Validate checks the options every backend requires.
func (o Options) Validate() error {
	if o.Index == "" {
		return fmt.Errorf("store options: index name is empty")
	}
	if o.Dimensions <= 0 {
		return fmt.Errorf("store options: dimensions must be positive, got %d", o.Dimensions)
	}
	if !o.Metric.Valid() {
		return ixerrors.InvalidMetric(string(o.Metric))
	}
	return nil
}

// VectorStore holds the records of one index.
type VectorStore interface {
	// Upsert writes records atomically: all of them or none.
	// A key already present is replaced; within one batch the last occurrence wins.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to k records ranked best first under the store's metric.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Delete removes records by key. Missing keys are ignored.
	Delete(ctx context.Context, keys []string) error

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)

	// Has reports, per key, whether a record is stored under it.
	Has(ctx context.Context, keys []string) ([]bool, error)

	Dimensions() int
	Metric() Metric

	Close() error
}

// Factory opens and removes stores of one backend kind.
type Factory interface {
	// Kind is the backend name recorded in the catalog.
	Kind() string

	// Location returns where the store for index lives.
	Location(index string) string

	// Open opens or creates the store described by opts.
	Open(ctx context.Context, opts Options) (VectorStore, error)

	// Remove deletes all data of the store described by opts.
	Remove(ctx context.Context, opts Options) error
}

// checkRecords validates vector lengths before anything is written.
func checkRecords(dims int, records []Record) error {
	for i := range records {
		if records[i].Key == "" {
			return fmt.Errorf("record %d has an empty key", i)
		}
		if len(records[i].Vector) != dims {
			return ixerrors.DimensionMismatch(dims, len(records[i].Vector))
		}
	}
	return nil
}

func checkQuery(dims int, vector []float32, k int) error {
	if k < 1 {
		return ixerrors.ValidationError(fmt.Sprintf("k must be at least 1, got %d", k), nil)
	}
	if len(vector) != dims {
		return ixerrors.DimensionMismatch(dims, len(vector))
	}
	return nil
}

// lastWins collapses duplicate keys in a batch, keeping the final occurrence
// at the position of the first.
func lastWins(records []Record) []Record {
	pos := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.Key]; ok {
			out[i] = r
			continue
		}
		pos[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}

// cloneRecord copies the parts of r a caller could mutate later.
func cloneRecord(r Record) Record {
	r.Vector = slices.Clone(r.Vector)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}
