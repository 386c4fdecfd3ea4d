package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork() int {
	sum := 0
	for i := range 1_000_000 {
		sum += i % 7
	}
	return sum
}

func requireNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSession_AllProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: running some work between Start and Stop
	s, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, s.Stop())

	// Then: each file has data
	requireNonEmpty(t, opts.CPU)
	requireNonEmpty(t, opts.Heap)
	requireNonEmpty(t, opts.Trace)
}

func TestSession_StopTwice(t *testing.T) {
	dir := t.TempDir()
	s, err := Start(Options{CPU: filepath.Join(dir, "cpu.prof")})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestSession_NothingRequested(t *testing.T) {
	assert.False(t, Options{}.Enabled())

	s, err := Start(Options{})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Error(t, err)
}
