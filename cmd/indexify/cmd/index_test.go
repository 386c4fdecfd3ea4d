package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexify/internal/catalog"
	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

// TS01: Indexes survive between invocations
func TestIndexCmd_EndToEnd(t *testing.T) {
	env := newTestEnv(t)

	// Given: an index created and filled by separate invocations
	out := env.mustRun(t, "index", "create", "docs", "--model", "static")
	assert.Contains(t, out, "Created index docs")

	out = env.mustRun(t, "index", "add", "docs", "red apples\ngreen pears", "blue whales", "--meta", "source=cli")
	assert.Contains(t, out, "Added 3 fragment(s) to docs")

	// When: searching it from a third invocation
	out = env.mustRun(t, "index", "search", "docs", "blue whales", "-k", "2", "--json")

	// Then: the exact fragment ranks first and carries its metadata
	var results []index.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "blue whales", results[0].Text)
	assert.Equal(t, "cli", results[0].Metadata["source"])

	out = env.mustRun(t, "index", "search", "docs", "blue whales")
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "blue whales")

	out = env.mustRun(t, "index", "info", "docs", "--json")
	var info index.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, "sqlite", info.Backend)
	assert.Equal(t, 8, info.Dimensions)

	out = env.mustRun(t, "index", "list", "--json")
	var recs []catalog.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "new_line", recs[0].Splitter)

	out = env.mustRun(t, "index", "delete", "docs")
	assert.Contains(t, out, "Deleted index docs")

	_, err := env.run(t, "index", "info", "docs")
	requireCode(t, err, ixerrors.ErrCodeIndexNotFound)
}

func TestIndexCmd_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "docs", "--model", "static")

	_, err := env.run(t, "index", "create", "docs", "--model", "static")
	requireCode(t, err, ixerrors.ErrCodeIndexExists)

	_, err = env.run(t, "index", "create", "other", "--model", "nope")
	requireCode(t, err, ixerrors.ErrCodeUnknownModel)

	_, err = env.run(t, "index", "create", "other", "--model", "static", "--splitter", "regex", "--pattern", "(")
	requireCode(t, err, ixerrors.ErrCodeInvalidPattern)

	_, err = env.run(t, "index", "create", "other", "--model", "static", "--metric", "manhattan")
	requireCode(t, err, ixerrors.ErrCodeInvalidMetric)

	_, err = env.run(t, "index", "create", "other")
	assert.Error(t, err, "--model is required")
}

func TestIndexCmd_MissingIndex(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "index", "add", "ghost", "text")
	requireCode(t, err, ixerrors.ErrCodeIndexNotFound)

	_, err = env.run(t, "index", "search", "ghost", "text")
	requireCode(t, err, ixerrors.ErrCodeIndexNotFound)

	_, err = env.run(t, "index", "delete", "ghost")
	requireCode(t, err, ixerrors.ErrCodeIndexNotFound)
}

// TS02: Search statistics accumulate across invocations
func TestIndexCmd_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "docs", "--model", "static")

	// Given: searches on an empty index, run by separate invocations
	env.mustRun(t, "index", "search", "docs", "red apples")
	env.mustRun(t, "index", "search", "docs", "red apples")

	// When: reading the statistics
	out := env.mustRun(t, "index", "stats", "docs", "--json")

	// Then: both searches were flushed to the catalog
	var stats telemetry.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(2), stats.ZeroResultCount)
	require.NotEmpty(t, stats.TopTerms)
	assert.Equal(t, int64(2), stats.TopTerms[0].Count)

	out = env.mustRun(t, "index", "stats", "docs")
	assert.Contains(t, out, "Searches")
	assert.Contains(t, out, "red apples")

	_, err := env.run(t, "index", "stats", "nope")
	requireCode(t, err, ixerrors.ErrCodeIndexNotFound)
}

func TestIndexCmd_StatsDisabled(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("INDEXIFY_TELEMETRY", "off")
	env.mustRun(t, "index", "create", "docs", "--model", "static")
	env.mustRun(t, "index", "search", "docs", "anything")

	out := env.mustRun(t, "index", "stats", "docs")

	assert.Contains(t, out, "Telemetry is disabled")
	assert.Contains(t, out, "No searches recorded")
}

func TestIndexCmd_AddNothing(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "docs", "--model", "static")

	_, err := env.run(t, "index", "add", "docs")

	requireCode(t, err, ixerrors.ErrCodeInvalidInput)
}

func TestIndexCmd_AddFromFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.mustRun(t, "index", "create", "docs", "--model", "static", "--splitter", "none", "--dedup-field", "id")

	// Given: a JSON lines file, a later text reusing one of its ids, and a plain file
	jsonl := filepath.Join(dir, "docs.jsonl")
	require.NoError(t, os.WriteFile(jsonl, []byte(
		`{"text": "first draft", "metadata": {"id": "a"}}`+"\n\n"+
			`{"text": "other", "metadata": {"id": "b"}}`+"\n"), 0o644))
	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(plain, []byte("line one\nline two"), 0o644))

	// When: adding all three
	env.mustRun(t, "index", "add", "docs", "--file", jsonl)
	env.mustRun(t, "index", "add", "docs", "second draft", "--meta", "id=a")
	env.mustRun(t, "index", "add", "docs", "--file", plain, "--meta", "id=c")

	// Then: the shared id kept only the later text and the plain file is one fragment
	out := env.mustRun(t, "index", "info", "docs", "--json")
	var info index.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 3, info.Count)

	out = env.mustRun(t, "index", "search", "docs", "second draft", "-k", "1", "--json")
	var results []index.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "second draft", results[0].Text)
}

func TestIndexCmd_AddDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "notes", "--model", "static", "--dedup-field", "source")

	// Given: a project with markdown, other text and an ignored file
	dir := t.TempDir()
	for rel, content := range map[string]string{
		"README.md":    "intro\nusage",
		"guide/faq.md": "questions",
		"main.go":      "package main",
		"draft.md":     "unfinished",
		".gitignore":   "draft.md\n",
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	// When: the markdown files are added
	out := env.mustRun(t, "index", "add", "notes", "--dir", dir, "--include", "*.md", "--meta", "team=docs")

	// Then: two files became three fragments tagged with their path
	assert.Contains(t, out, "Added 2 file(s) as 3 fragment(s) to notes")
	out = env.mustRun(t, "index", "search", "notes", "questions", "-k", "3", "--json")
	var results []index.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	sources := map[string]bool{}
	for _, r := range results {
		sources[r.Metadata["source"]] = true
		assert.Equal(t, "docs", r.Metadata["team"])
	}
	assert.Equal(t, map[string]bool{"README.md": true, "guide/faq.md": true}, sources)

	// Re-adding the same tree replaces instead of duplicating
	env.mustRun(t, "index", "add", "notes", "--dir", dir, "--include", "*.md")
	out = env.mustRun(t, "index", "info", "notes", "--json")
	var info index.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 3, info.Count)
}

func TestIndexCmd_AddDirectoryErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "notes", "--model", "static")

	_, err := env.run(t, "index", "add", "notes", "--watch")
	requireCode(t, err, ixerrors.ErrCodeInvalidInput)

	_, err = env.run(t, "index", "add", "notes", "--dir", filepath.Join(t.TempDir(), "missing"))
	requireCode(t, err, ixerrors.ErrCodeInvalidInput)
}

func TestIndexCmd_BadJSONLines(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "index", "create", "docs", "--model", "static")
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"text\": \"ok\"}\n{nope\n"), 0o644))

	_, err := env.run(t, "index", "add", "docs", "--file", path)

	requireCode(t, err, ixerrors.ErrCodeInvalidInput)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)

	meta, err = parseMeta([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, meta)

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseMeta([]string{"=v"})
	assert.Error(t, err)
}
