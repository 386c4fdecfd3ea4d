package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-01-02T10:00:00.000Z","level":"DEBUG","msg":"cache_hit","key":"a"}
{"time":"2026-01-02T10:00:01.000Z","level":"INFO","msg":"server_started","addr":"127.0.0.1:8900"}
not json at all
{"time":"2026-01-02T10:00:02.500Z","level":"WARN","msg":"search_slow","index":"docs","ms":812}
{"time":"2026-01-02T10:00:03.000Z","level":"ERROR","msg":"embedding_failed","index":"docs"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func msgs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Msg
	}
	return out
}

// =============================================================================
// TS03: Log viewer
// =============================================================================

func TestParseEntry(t *testing.T) {
	e := ParseEntry(`{"time":"2026-01-02T10:00:02.500Z","level":"WARN","msg":"search_slow","index":"docs"}`)

	require.True(t, e.Valid)
	assert.Equal(t, "WARN", e.Level)
	assert.Equal(t, "search_slow", e.Msg)
	assert.Equal(t, map[string]any{"index": "docs"}, e.Attrs)
	assert.Equal(t, 2, e.Time.Second())

	raw := ParseEntry("plain text")
	assert.False(t, raw.Valid)
	assert.Equal(t, "plain text", raw.Raw)
}

func TestViewer_TailFilters(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{name: "everything", n: 50, want: []string{"cache_hit", "server_started", "", "search_slow", "embedding_failed"}},
		{name: "last two lines", n: 2, want: []string{"search_slow", "embedding_failed"}},
		{name: "warn and above", cfg: ViewerConfig{Level: "warn"}, n: 50, want: []string{"", "search_slow", "embedding_failed"}},
		{name: "pattern", cfg: ViewerConfig{Pattern: regexp.MustCompile(`"index":"docs"`)}, n: 50, want: []string{"search_slow", "embedding_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViewer(tt.cfg, &bytes.Buffer{})
			entries, err := v.Tail(path, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msgs(entries))
		})
	}
}

func TestViewer_TailMissingFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	_, err := v.Tail(filepath.Join(t.TempDir(), "none.log"), 10)

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	line := v.Format(ParseEntry(`{"time":"2026-01-02T10:00:02.500Z","level":"WARN","msg":"search_slow","ms":812,"index":"docs"}`))

	assert.Equal(t, "10:00:02.500 WARN  search_slow index=docs ms=812", line)
	assert.Equal(t, "not json", v.Format(ParseEntry("not json")))
}

func TestViewer_Follow(t *testing.T) {
	path := writeLog(t, sampleLog)
	var buf syncBuffer
	v := NewViewer(ViewerConfig{Level: "info"}, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path) }()
	time.Sleep(50 * time.Millisecond)

	// Lines appended after the start are printed, old ones are not
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-01-02T11:00:00.000Z","level":"DEBUG","msg":"hidden"}` + "\n" +
		`{"time":"2026-01-02T11:00:01.000Z","level":"INFO","msg":"appended"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "appended") }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, buf.String(), "hidden")
	assert.NotContains(t, buf.String(), "server_started")
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
