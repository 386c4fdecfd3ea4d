package index

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Aman-CERP/indexify/internal/catalog"
	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/splitter"
	"github.com/Aman-CERP/indexify/internal/store"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

// fragmentWindow is how many positions FragmentsEnd checks per store call.
const fragmentWindow = 64

// Document is one unit of ingestion.
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Result is one search hit, best first.
type Result struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	// Score is the raw metric value. Higher is better except for euclidean.
	Score float32 `json:"score"`
}

// Index is a loaded handle on one index. Handles for the same name share
// their backend store, so they are interchangeable.
type Index struct {
	rec      catalog.Record
	strategy splitter.Strategy
	split    splitter.Splitter
	vectors  store.VectorStore
	embedder Embedder
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.rec.Name }

// Record returns the persisted configuration.
func (ix *Index) Record() catalog.Record {
	rec := ix.rec
	rec.DedupFields = append([]string(nil), ix.rec.DedupFields...)
	return rec
}

// Strategy returns the splitter strategy.
func (ix *Index) Strategy() splitter.Strategy { return ix.strategy }

// fragment is one piece of a document, ready for embedding.
type fragment struct {
	key      string
	text     string
	metadata map[string]string
}

// AddTexts splits, embeds, and stores docs. It returns the number of
// fragments written. Either every fragment is stored or none is.
func (ix *Index) AddTexts(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	start := time.Now()

	var frags []fragment
	for _, doc := range docs {
		for ordinal, piece := range ix.split.Split(doc.Text) {
			frags = append(frags, fragment{
				key:      DedupKey(piece, doc.Metadata, ix.rec.DedupFields, ordinal),
				text:     piece,
				metadata: maps.Clone(doc.Metadata),
			})
		}
	}
	if len(frags) == 0 {
		return 0, nil
	}

	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.text
	}

	vectors, err := ix.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	records := make([]store.Record, len(frags))
	for i, f := range frags {
		records[i] = store.Record{Key: f.key, Text: f.text, Metadata: f.metadata, Vector: vectors[i]}
	}
	if err := ix.vectors.Upsert(ctx, records); err != nil {
		return 0, backendErr(fmt.Sprintf("failed to store %d fragments in index %q", len(records), ix.rec.Name), err)
	}

	ix.logger.Debug("texts_added",
		slog.String("index", ix.rec.Name),
		slog.Int("documents", len(docs)),
		slog.Int("fragments", len(records)),
		slog.Duration("duration", time.Since(start)))
	return len(records), nil
}

// Fragments returns how many fragments text splits into.
func (ix *Index) Fragments(text string) int { return len(ix.split.Split(text)) }

// DeleteFragments removes the fragments at positions [from, to) of the
// document identified by metadata. Keys only depend on metadata when the
// index has dedup fields, so it fails on indexes without them.
func (ix *Index) DeleteFragments(ctx context.Context, metadata map[string]string, from, to int) error {
	if len(ix.rec.DedupFields) == 0 {
		return ixerrors.ValidationError(
			fmt.Sprintf("index %q has no dedup fields, fragments cannot be addressed by metadata", ix.rec.Name), nil)
	}
	if from < 0 || to <= from {
		return nil
	}
	keys := make([]string, 0, to-from)
	for ordinal := from; ordinal < to; ordinal++ {
		keys = append(keys, DedupKey("", metadata, ix.rec.DedupFields, ordinal))
	}
	if err := ix.vectors.Delete(ctx, keys); err != nil {
		return backendErr(fmt.Sprintf("failed to delete fragments from index %q", ix.rec.Name), err)
	}
	ix.logger.Debug("fragments_deleted",
		slog.String("index", ix.rec.Name),
		slog.Int("from", from),
		slog.Int("to", to))
	return nil
}

// FragmentsEnd returns the first position at or after from that holds no
// fragment of the document identified by metadata. Fragments of a document
// are stored at consecutive positions starting at zero.
func (ix *Index) FragmentsEnd(ctx context.Context, metadata map[string]string, from int) (int, error) {
	if len(ix.rec.DedupFields) == 0 {
		return 0, ixerrors.ValidationError(
			fmt.Sprintf("index %q has no dedup fields, fragments cannot be addressed by metadata", ix.rec.Name), nil)
	}
	from = max(from, 0)
	keys := make([]string, fragmentWindow)
	for {
		for i := range keys {
			keys[i] = DedupKey("", metadata, ix.rec.DedupFields, from+i)
		}
		found, err := ix.vectors.Has(ctx, keys)
		if err != nil {
			return 0, backendErr(fmt.Sprintf("failed to look up fragments in index %q", ix.rec.Name), err)
		}
		for i, ok := range found {
			if !ok {
				return from + i, nil
			}
		}
		from += fragmentWindow
	}
}

// Search embeds query and returns up to k results, best first.
// An index with fewer than k records returns all of them.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k < 1 {
		return nil, ixerrors.ValidationError(fmt.Sprintf("k must be at least 1, got %d", k), nil)
	}
	start := time.Now()

	vectors, err := ix.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	matches, err := ix.vectors.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, backendErr(fmt.Sprintf("search in index %q failed", ix.rec.Name), err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		md := m.Metadata
		if md == nil {
			md = map[string]string{}
		}
		results[i] = Result{Text: m.Text, Metadata: md, Score: m.Score}
	}

	if ix.metrics != nil {
		ix.metrics.Record(telemetry.QueryEvent{
			Index:       ix.rec.Name,
			Query:       query,
			ResultCount: len(results),
			Latency:     time.Since(start),
			Timestamp:   start,
		})
	}
	return results, nil
}

// Count returns the number of stored fragments.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n, err := ix.vectors.Count(ctx)
	if err != nil {
		return 0, backendErr(fmt.Sprintf("count of index %q failed", ix.rec.Name), err)
	}
	return n, nil
}

// embed runs one batched embedding call and checks every vector's length.
func (ix *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := ix.embedder.GenerateEmbeddings(ctx, texts, ix.rec.Model)
	if err != nil {
		return nil, ixerrors.EmbeddingFailure(
			fmt.Sprintf("embedding with model %q failed: %v", ix.rec.Model, err), err).
			WithDetail("index", ix.rec.Name)
	}
	if len(vectors) != len(texts) {
		return nil, ixerrors.EmbeddingFailure(
			fmt.Sprintf("model %q returned %d vectors for %d texts", ix.rec.Model, len(vectors), len(texts)), nil)
	}
	for _, v := range vectors {
		if len(v) != ix.rec.Dimensions {
			return nil, ixerrors.DimensionMismatch(ix.rec.Dimensions, len(v)).
				WithDetail("index", ix.rec.Name).
				WithDetail("model", ix.rec.Model)
		}
	}
	return vectors, nil
}

// backendErr keeps domain errors and wraps everything else as a backend failure.
func backendErr(msg string, err error) error {
	if _, ok := ixerrors.As(err); ok {
		return err
	}
	return ixerrors.BackendError(msg, err)
}
