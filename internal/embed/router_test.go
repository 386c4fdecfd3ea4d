package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/logging"
)

// fakeBackend returns [len(text), batchCall] per text and can fail on demand.
type fakeBackend struct {
	dims      int
	calls     atomic.Int32
	texts     atomic.Int32
	failOn    string
	block     bool
	wrongSize bool
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := f.calls.Add(1)
	f.texts.Add(int32(len(texts)))
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if f.failOn != "" && t == f.failOn {
			return nil, errors.New("provider exploded")
		}
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		if f.dims > 1 {
			v[1] = float32(call)
		}
		out = append(out, v)
	}
	if f.wrongSize {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeBackend) Dimensions() int                  { return f.dims }
func (f *fakeBackend) ModelName() string                { return "fake" }
func (f *fakeBackend) Available(_ context.Context) bool { return true }
func (f *fakeBackend) Close() error                     { return nil }

func newTestRouter(t *testing.T, opts ...RouterOption) *Router {
	t.Helper()
	opts = append([]RouterOption{WithLogger(logging.Discard())}, opts...)
	return NewRouter(opts...)
}

// TS01: Models are listed in registration order, stable across calls
func TestRouter_ListModels_ConfigurationOrder(t *testing.T) {
	// Given: three registered models
	r := newTestRouter(t)
	require.NoError(t, r.Register("zeta", &fakeBackend{dims: 2}))
	require.NoError(t, r.Register("alpha", &fakeBackend{dims: 3}))
	require.NoError(t, r.Register("mid", &fakeBackend{dims: 4}))

	// When/Then: order is registration order every time
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, r.ListModels())
	assert.Equal(t, r.ListModels(), r.ListModels())

	models := r.Models()
	require.Len(t, models, 3)
	assert.Equal(t, ModelInfo{Name: "alpha", Dimensions: 3}, models[1])
}

func TestRouter_Register_RejectsDuplicates(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Register("m", &fakeBackend{dims: 2}))

	assert.Error(t, r.Register("m", &fakeBackend{dims: 2}))
	assert.Error(t, r.Register("", &fakeBackend{dims: 2}))
	assert.Error(t, r.Register("nil", nil))
}

// TS02: Unknown models fail with UnknownModel and never reach a backend
func TestRouter_UnknownModel(t *testing.T) {
	r := newTestRouter(t)
	fb := &fakeBackend{dims: 2}
	require.NoError(t, r.Register("known", fb))

	_, err := r.Dimensions("missing")
	assert.ErrorIs(t, err, ixerrors.ErrUnknownModel)

	_, err = r.GenerateEmbeddings(context.Background(), []string{"x"}, "missing")
	assert.ErrorIs(t, err, ixerrors.ErrUnknownModel)
	assert.Equal(t, int32(0), fb.calls.Load())

	dims, err := r.Dimensions("known")
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
}

// TS03: Output has one vector per input, in input order, across batches
func TestRouter_GenerateEmbeddings_PreservesOrderAcrossBatches(t *testing.T) {
	// Given: a batch size of 2 and 7 texts of distinct lengths
	r := newTestRouter(t, WithBatchSize(2), WithConcurrency(3))
	fb := &fakeBackend{dims: 2}
	require.NoError(t, r.Register("m", fb))

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	// When: embedding
	vecs, err := r.GenerateEmbeddings(context.Background(), texts, "m")

	// Then: vector i encodes len(texts[i]) and four batches were sent
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
	assert.Equal(t, int32(4), fb.calls.Load())
	assert.Equal(t, int32(7), fb.texts.Load())
}

func TestRouter_GenerateEmbeddings_EmptyInput(t *testing.T) {
	r := newTestRouter(t)
	fb := &fakeBackend{dims: 2}
	require.NoError(t, r.Register("m", fb))

	vecs, err := r.GenerateEmbeddings(context.Background(), nil, "m")

	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int32(0), fb.calls.Load())
}

// TS04: One failing batch fails the whole call with no partial output
func TestRouter_GenerateEmbeddings_AllOrNothing(t *testing.T) {
	// Given: a backend that fails on one text in the last batch
	r := newTestRouter(t, WithBatchSize(2))
	require.NoError(t, r.Register("m", &fakeBackend{dims: 2, failOn: "bad"}))

	// When: embedding
	vecs, err := r.GenerateEmbeddings(context.Background(), []string{"a", "b", "c", "bad"}, "m")

	// Then: a backend error and nothing else
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.ErrorIs(t, err, ixerrors.ErrBackend)
	assert.Contains(t, err.Error(), "provider exploded")
}

func TestRouter_GenerateEmbeddings_WrongVectorCount(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Register("m", &fakeBackend{dims: 2, wrongSize: true}))

	_, err := r.GenerateEmbeddings(context.Background(), []string{"a", "b"}, "m")

	require.Error(t, err)
	assert.ErrorIs(t, err, ixerrors.ErrBackend)
}

// TS05: The per-call deadline bounds a hung backend
func TestRouter_GenerateEmbeddings_CallTimeout(t *testing.T) {
	// Given: a backend that never answers and a short call timeout
	r := newTestRouter(t, WithCallTimeout(50*time.Millisecond))
	require.NoError(t, r.Register("m", &fakeBackend{dims: 2, block: true}))

	// When: embedding
	start := time.Now()
	_, err := r.GenerateEmbeddings(context.Background(), []string{"a"}, "m")

	// Then: the call fails promptly with a deadline error
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ixerrors.ErrBackend)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRouter_GenerateEmbeddings_CallerCancellation(t *testing.T) {
	r := newTestRouter(t, WithCallTimeout(time.Minute))
	require.NoError(t, r.Register("m", &fakeBackend{dims: 2, block: true}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.GenerateEmbeddings(ctx, []string{"a", "b"}, "m")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouter_WithBatchSize_CapsAtMax(t *testing.T) {
	r := newTestRouter(t, WithBatchSize(MaxBatchSize*10))
	assert.Equal(t, MaxBatchSize, r.batchSize)

	r = newTestRouter(t, WithBatchSize(-1))
	assert.Equal(t, DefaultBatchSize, r.batchSize)
}

func TestRouter_Close_ClosesBackends(t *testing.T) {
	r := newTestRouter(t)
	s, err := NewStaticBackend("s", 8)
	require.NoError(t, err)
	require.NoError(t, r.Register("s", s))

	require.NoError(t, r.Close())
	assert.False(t, s.Available(context.Background()))
}

func ExampleRouter_GenerateEmbeddings() {
	r := NewRouter(WithLogger(logging.Discard()))
	s, _ := NewStaticBackend("static", 16)
	_ = r.Register("static", s)

	vecs, err := r.GenerateEmbeddings(context.Background(), []string{"hello", "world"}, "static")
	fmt.Println(len(vecs), len(vecs[0]), err)
	// Output: 2 16 <nil>
}
