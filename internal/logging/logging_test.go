package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Setup writes JSON lines to the configured file
func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only config in a temp dir
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	cfg := Config{Level: "info", FilePath: path, MaxSizeMB: 1, MaxFiles: 2}

	// When: logging through the returned logger
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("index created", slog.String("index", "docs"))
	logger.Debug("hidden")
	cleanup()

	// Then: exactly one JSON record with our attributes is written
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "index created", rec["msg"])
	assert.Equal(t, "docs", rec["index"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestStdioSafeConfig_DisablesStderr(t *testing.T) {
	cfg := StdioSafeConfig("debug")

	assert.False(t, cfg.WriteToStderr)
	assert.Equal(t, "debug", cfg.Level)
	assert.NotEmpty(t, cfg.FilePath)
}

// TS02: Rotation keeps at most MaxFiles backups
func TestRotatingWriter_RotatesBySize(t *testing.T) {
	// Given: a writer with a tiny size limit
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 64
	defer w.Close()

	// When: writing enough lines to rotate several times
	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 6; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	// Then: the live file plus two backups exist, no third backup
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	count := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
