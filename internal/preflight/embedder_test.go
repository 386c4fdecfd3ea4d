package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexify/internal/embed"
)

type fakeProber struct {
	models []embed.ModelInfo
	down   map[string]bool
}

func (f *fakeProber) Models() []embed.ModelInfo {
	if f.models != nil {
		return f.models
	}
	return []embed.ModelInfo{{Name: "static", Dimensions: 8}, {Name: "remote", Dimensions: 768}}
}

func (f *fakeProber) Available(ctx context.Context, model string) bool {
	return ctx.Err() == nil && !f.down[model]
}

func TestCheckModels(t *testing.T) {
	c := New(WithModels(&fakeProber{down: map[string]bool{"remote": true}}))

	results := c.CheckModels(context.Background())

	require.Len(t, results, 2)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Contains(t, results[0].Message, "8 dimensions")
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.Contains(t, results[1].Details, "remote")
}

func TestCheckModels_NoneConfigured(t *testing.T) {
	c := New(WithModels(&fakeProber{models: []embed.ModelInfo{}}))

	results := c.CheckModels(context.Background())

	require.Len(t, results, 1)
	assert.True(t, results[0].IsCritical())
}

func TestCheckModels_Router(t *testing.T) {
	// Given: a real router with a static model
	backend, err := embed.NewStaticBackend("static", 16)
	require.NoError(t, err)
	router := embed.NewRouter()
	require.NoError(t, router.Register("static", backend))

	// When: probing it
	results := New(WithModels(router)).CheckModels(context.Background())

	// Then: the static model always answers
	require.Len(t, results, 1)
	assert.Equal(t, "model:static", results[0].Name)
	assert.Equal(t, StatusPass, results[0].Status)
}
