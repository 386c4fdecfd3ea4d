package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticBackend embeds text by hashing tokens and character trigrams into a
// fixed number of buckets. It needs no network or model download and is
// deterministic, at the cost of semantic quality.
type StaticBackend struct {
	model string
	dims  int

	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*StaticBackend)(nil)

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "on": true,
	"for": true, "or": true, "be": true, "as": true, "at": true,
}

// NewStaticBackend creates a static backend producing dims-length vectors.
func NewStaticBackend(model string, dims int) (*StaticBackend, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("static backend: dimensions must be positive, got %d", dims)
	}
	if model == "" {
		model = "static"
	}
	return &StaticBackend{model: model, dims: dims}, nil
}

// EmbedBatch embeds each text independently.
func (e *StaticBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("static backend is closed")
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.embed(text)
	}
	return results, nil
}

func (e *StaticBackend) embed(text string) []float32 {
	vector := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}

	for _, token := range tokenize(trimmed) {
		if stopWords[token] {
			continue
		}
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	for _, gram := range trigrams(trimmed) {
		vector[hashToIndex(gram, e.dims)] += ngramWeight
	}
	return normalizeVector(vector)
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// trigrams returns sliding 3-rune windows over the letters and digits of text.
func trigrams(text string) []string {
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, r)
		}
	}
	if len(runes) < ngramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-ngramSize+1)
	for i := 0; i+ngramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+ngramSize]))
	}
	return out
}

// hashToIndex uses FNV-64 to map a string to a bucket.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticBackend) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticBackend) ModelName() string {
	return e.model
}

// Available is true until Close.
func (e *StaticBackend) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the backend closed.
func (e *StaticBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
