package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files below root. Keys are slash separated paths.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func scanTree(t *testing.T, root string, opts Options) []File {
	t.Helper()
	s, err := NewScanner(root, opts, nil)
	require.NoError(t, err)
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	return files
}

// =============================================================================
// TS02: Scanning
// =============================================================================

func TestScanner_SkipsExcludedFiles(t *testing.T) {
	// Given: a tree with text, binary, ignored and sensitive files
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"README.md":               "hello",
		"docs/guide.md":           "guide",
		"docs/notes.txt":          "notes",
		"node_modules/x/index.js": "module",
		".git/config":             "[core]",
		".env":                    "TOKEN=1",
		"certs/server.pem":        "pem",
		"image.bin":               "a\x00b",
		"build/out.txt":           "built",
		".gitignore":              "build/\n",
	})

	// When: the tree is scanned
	files := scanTree(t, root, Options{})

	// Then: only the text files nobody excluded remain, sorted
	assert.Equal(t, []string{".gitignore", "README.md", "docs/guide.md", "docs/notes.txt"}, paths(files))
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f.AbsPath))
	}
}

func TestScanner_NestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":          "a",
		"sub/b.txt":      "b",
		"sub/c.log":      "c",
		"sub/.gitignore": "*.log\n",
		"other/d.log":    "d",
	})

	files := scanTree(t, root, Options{})

	assert.Equal(t, []string{"a.txt", "other/d.log", "sub/.gitignore", "sub/b.txt"}, paths(files))
}

func TestScanner_NoGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":      "a",
		"skip.txt":   "b",
		".gitignore": "skip.txt\n",
	})

	files := scanTree(t, root, Options{NoGitignore: true})

	assert.Contains(t, paths(files), "skip.txt")
}

func TestScanner_IncludeExcludeAndSize(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.md":         "short",
		"b.md":         strings.Repeat("x", 64),
		"c.txt":        "text",
		"drafts/d.md":  "draft",
		"drafts/e.txt": "draft",
	})

	files := scanTree(t, root, Options{
		Include:     []string{"*.md"},
		Exclude:     []string{"drafts/"},
		MaxFileSize: 32,
	})

	assert.Equal(t, []string{"a.md"}, paths(files))
}

func TestNewScanner_Errors(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	writeTree(t, root, map[string]string{"f.txt": "x"})

	_, err := NewScanner(filepath.Join(root, "missing"), Options{}, nil)
	assert.Error(t, err)

	_, err = NewScanner(file, Options{}, nil)
	assert.Error(t, err)

	_, err = NewScanner(root, Options{Include: []string{"[bad"}}, nil)
	assert.Error(t, err)
}

func TestScanner_StatAndRel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep/a.txt": "a",
		".gitignore": "*.log\n",
		"b.log":      "b",
	})
	s, err := NewScanner(root, Options{}, nil)
	require.NoError(t, err)

	f, ok := s.Stat(filepath.Join(root, "keep", "a.txt"))
	require.True(t, ok)
	assert.Equal(t, "keep/a.txt", f.Path)

	_, ok = s.Stat(filepath.Join(root, "b.log"))
	assert.False(t, ok)
	_, ok = s.Stat(filepath.Join(root, "missing.txt"))
	assert.False(t, ok)

	_, err = s.Rel(filepath.Dir(root))
	assert.Error(t, err)
	_, err = s.Rel(s.Root())
	assert.Error(t, err)
}

func TestScanner_InvalidateIgnores(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a", "b.txt": "b"})
	s, err := NewScanner(root, Options{}, nil)
	require.NoError(t, err)
	assert.False(t, s.Ignored("b.txt", false))

	// A .gitignore written later is only seen after invalidation
	writeTree(t, root, map[string]string{".gitignore": "b.txt\n"})
	assert.False(t, s.Ignored("b.txt", false))

	s.InvalidateIgnores()
	assert.True(t, s.Ignored("b.txt", false))
}

func TestScanner_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	s, err := NewScanner(root, Options{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "alpha\nbeta"})
	files := scanTree(t, root, Options{})
	require.Len(t, files, 1)

	text, err := ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta", text)

	_, err = ReadFile(File{Path: "gone", AbsPath: filepath.Join(root, "gone")})
	assert.Error(t, err)
}
