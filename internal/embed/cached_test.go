package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Cache hits skip the inner backend; only misses are forwarded
func TestCachedBackend_ForwardsOnlyMisses(t *testing.T) {
	// Given: a cached fake backend primed with "a"
	inner := &fakeBackend{dims: 2}
	c := NewCachedBackend(inner, 16)
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	// When: embedding a mix of hits and misses
	vecs, err := c.EmbedBatch(context.Background(), []string{"bb", "a", "ccc"})

	// Then: order is preserved and only two texts reached the backend
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, 3, c.Len())
}

func TestCachedBackend_FullHitMakesNoCall(t *testing.T) {
	inner := &fakeBackend{dims: 2}
	c := NewCachedBackend(inner, 16)
	_, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"y", "x"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedBackend_ReturnsCopies(t *testing.T) {
	c := NewCachedBackend(&fakeBackend{dims: 2}, 16)
	v1, err := c.EmbedBatch(context.Background(), []string{"abc"})
	require.NoError(t, err)

	v1[0][0] = 999

	v2, err := c.EmbedBatch(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, float32(3), v2[0][0])
}

func TestCachedBackend_ErrorsAreNotCached(t *testing.T) {
	inner := &fakeBackend{dims: 2, failOn: "bad"}
	c := NewCachedBackend(inner, 16)

	_, err := c.EmbedBatch(context.Background(), []string{"bad"})
	require.Error(t, err)
	_, err = c.EmbedBatch(context.Background(), []string{"bad"})
	require.Error(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCachedBackend_Passthrough(t *testing.T) {
	inner := &fakeBackend{dims: 5}
	c := NewCachedBackend(inner, 0)

	assert.Equal(t, 5, c.Dimensions())
	assert.Equal(t, "fake", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())
}
