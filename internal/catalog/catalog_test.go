package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

func docsRecord() Record {
	return Record{
		Name:        "docs",
		Model:       "static",
		Dimensions:  4,
		Metric:      "cosine",
		Splitter:    "regex",
		Pattern:     `\s*,\s*`,
		DedupFields: []string{"src", "page"},
		Backend:     "sqlite",
		Location:    "/data/vectors/sqlite/docs",
		CreatedAt:   time.UnixMilli(1_700_000_000_000),
	}
}

// TS01: Records round-trip through the catalog and survive reopen
func TestCatalog_InsertGetSurvivesReopen(t *testing.T) {
	// Given: a catalog on disk with one record
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, docsRecord()))
	require.NoError(t, c.Close())

	// When: reopening
	c, err = Open(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// Then: the record is unchanged
	got, err := c.Get(ctx, "docs")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, docsRecord(), *got)
	assert.Equal(t, filepath.Join(dir, FileName), c.Path())
}

func TestCatalog_Get_MissingIsNil(t *testing.T) {
	c, err := Open(context.Background(), "")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	got, err := c.Get(context.Background(), "nope")

	assert.NoError(t, err)
	assert.Nil(t, got)
}

// TS02: A taken name is refused and the first record is kept
func TestCatalog_Insert_DuplicateName(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, "")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	require.NoError(t, c.Insert(ctx, docsRecord()))

	dup := docsRecord()
	dup.Model = "other"
	err = c.Insert(ctx, dup)

	assert.ErrorIs(t, err, ixerrors.ErrIndexAlreadyExists)
	got, err := c.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "static", got.Model)
}

// TS03: Concurrent creators of one name produce exactly one winner
func TestCatalog_Insert_ConcurrentSameName(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := docsRecord()
			rec.Model = fmt.Sprintf("m%d", i)
			err := c.Insert(ctx, rec)
			switch {
			case err == nil:
				wins.Add(1)
			case ixerrors.GetCode(err) == ixerrors.ErrCodeIndexExists:
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), losses.Load())
}

func TestCatalog_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, "")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	for _, name := range []string{"zeta", "alpha"} {
		rec := docsRecord()
		rec.Name = name
		rec.DedupFields = nil
		require.NoError(t, c.Insert(ctx, rec))
	}

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Nil(t, list[0].DedupFields)

	deleted, err := c.Delete(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, deleted)

	list, err = c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCatalog_DeleteClearsSearchStats(t *testing.T) {
	// Given: two indexes with search statistics rows
	ctx := context.Background()
	c, err := Open(ctx, "")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	for _, name := range []string{"docs", "other"} {
		rec := docsRecord()
		rec.Name = name
		require.NoError(t, c.Insert(ctx, rec))
		_, err = c.DB().Exec(`INSERT INTO query_stats(index_name, day, queries) VALUES (?, '2026-01-01', 3)`, name)
		require.NoError(t, err)
		_, err = c.DB().Exec(`INSERT INTO query_terms(index_name, term, count, last_seen) VALUES (?, 'hello', 1, 0)`, name)
		require.NoError(t, err)
	}

	// When: deleting one index
	deleted, err := c.Delete(ctx, "docs")
	require.NoError(t, err)
	require.True(t, deleted)

	// Then: only its statistics are gone
	for table, want := range map[string]map[string]int{
		"query_stats": {"docs": 0, "other": 1},
		"query_terms": {"docs": 0, "other": 1},
	} {
		for name, n := range want {
			var got int
			require.NoError(t, c.DB().QueryRow(
				`SELECT COUNT(*) FROM `+table+` WHERE index_name = ?`, name).Scan(&got))
			assert.Equal(t, n, got, "%s rows of %s", table, name)
		}
	}
}

// TS04: A v1 catalog is upgraded in place and keeps its records
func TestCatalog_MigratesV1(t *testing.T) {
	// Given: a catalog file at schema v1 with one record
	ctx := context.Background()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(migrations[0].stmt)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_version(version) VALUES (1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO indexes(name, model, dimensions, metric, splitter, backend, created_at)
		VALUES ('old', 'static', 8, 'dot', 'new_line', 'sqlite', 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// When: opening it
	c, err := Open(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// Then: it is at the current version and the record has no dedup fields
	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	got, err := c.Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 8, got.Dimensions)
	assert.Nil(t, got.DedupFields)
}

func TestCatalog_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(ctx, dir)
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(ctx, dir)

	require.Error(t, err)
	assert.Equal(t, ixerrors.ErrCodeCorruptIndex, ixerrors.GetCode(err))
}
