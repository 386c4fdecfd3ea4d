package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexify/internal/catalog"
)

func newTestStore(t *testing.T) (*SQLiteStore, *catalog.Catalog) {
	t.Helper()
	c, err := catalog.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s, err := NewSQLiteStore(c.DB())
	require.NoError(t, err)
	return s, c
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	assert.Error(t, err)
}

func TestSQLiteStore_EmptyIndex(t *testing.T) {
	s, _ := newTestStore(t)

	stats, err := s.Load(context.Background(), "docs", 10, 10)

	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalQueries)
	assert.Empty(t, stats.FirstDay)
	assert.NotNil(t, stats.LatencyDistribution)
}

func TestSQLiteStore_SaveAccumulates(t *testing.T) {
	// Given: two batches for the same index on different days
	ctx := context.Background()
	s, _ := newTestStore(t)
	at := time.UnixMilli(1_750_000_000_000)

	require.NoError(t, s.Save(ctx, []Batch{{
		Index: "docs", Day: "2026-01-02",
		Queries: 3, ZeroResults: 1, Repeats: 1,
		Latencies:         map[LatencyBucket]int64{BucketP10: 3},
		Terms:             map[string]int64{"hello": 2, "world": 1},
		ZeroResultQueries: []ZeroResultQuery{{Query: "nothing here", At: at}},
	}}))
	require.NoError(t, s.Save(ctx, []Batch{
		{
			Index: "docs", Day: "2026-01-01",
			Queries: 2, Latencies: map[LatencyBucket]int64{BucketP10: 1, BucketP500: 1},
			Terms: map[string]int64{"world": 4},
		},
		{Index: "other", Day: "2026-01-01", Queries: 7},
	}))

	// When: loading the index
	stats, err := s.Load(ctx, "docs", 10, 10)
	require.NoError(t, err)

	// Then: counts are summed across days and indexes stay separate
	assert.Equal(t, int64(5), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Equal(t, int64(1), stats.RepeatCount)
	assert.Equal(t, "2026-01-01", stats.FirstDay)
	assert.Equal(t, map[LatencyBucket]int64{BucketP10: 4, BucketP500: 1}, stats.LatencyDistribution)
	assert.Equal(t, []TermCount{{"world", 5}, {"hello", 2}}, stats.TopTerms)
	require.Len(t, stats.ZeroResultQueries, 1)
	assert.Equal(t, "nothing here", stats.ZeroResultQueries[0].Query)
	assert.True(t, at.Equal(stats.ZeroResultQueries[0].At))
}

func TestSQLiteStore_TopTermsLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	terms := map[string]int64{}
	for i := 1; i <= 10; i++ {
		terms[fmt.Sprintf("term%02d", i)] = int64(i)
	}
	require.NoError(t, s.Save(ctx, []Batch{{Index: "docs", Day: "2026-01-01", Queries: 1, Terms: terms}}))

	stats, err := s.Load(ctx, "docs", 3, 10)

	require.NoError(t, err)
	assert.Equal(t, []TermCount{{"term10", 10}, {"term09", 9}, {"term08", 8}}, stats.TopTerms)
}

func TestSQLiteStore_ZeroResultsTrimmed(t *testing.T) {
	// Given: more zero-result queries than are kept
	ctx := context.Background()
	s, _ := newTestStore(t)
	var queries []ZeroResultQuery
	for i := range MaxStoredZeroResults + 20 {
		queries = append(queries, ZeroResultQuery{Query: fmt.Sprintf("q%03d", i), At: time.Now()})
	}
	require.NoError(t, s.Save(ctx, []Batch{{Index: "docs", Day: "2026-01-01", Queries: 1, ZeroResultQueries: queries}}))

	// When: loading everything
	stats, err := s.Load(ctx, "docs", 10, 1000)
	require.NoError(t, err)

	// Then: only the newest are kept, newest first
	require.Len(t, stats.ZeroResultQueries, MaxStoredZeroResults)
	assert.Equal(t, fmt.Sprintf("q%03d", MaxStoredZeroResults+19), stats.ZeroResultQueries[0].Query)
	assert.Equal(t, "q020", stats.ZeroResultQueries[MaxStoredZeroResults-1].Query)
}

func TestSQLiteStore_DeletedWithCatalogRecord(t *testing.T) {
	ctx := context.Background()
	s, c := newTestStore(t)
	require.NoError(t, c.Insert(ctx, catalog.Record{
		Name: "docs", Model: "static", Dimensions: 4, Metric: "dot", Splitter: "none", Backend: "memory",
	}))
	require.NoError(t, s.Save(ctx, []Batch{{Index: "docs", Day: "2026-01-01", Queries: 2}}))

	_, err := c.Delete(ctx, "docs")
	require.NoError(t, err)

	stats, err := s.Load(ctx, "docs", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalQueries)
}

func TestSQLiteStore_SaveRollsBack(t *testing.T) {
	// Given: a store whose database was closed under it
	ctx := context.Background()
	c, err := catalog.Open(ctx, "")
	require.NoError(t, err)
	s, err := NewSQLiteStore(c.DB())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// When / Then: saving fails
	err = s.Save(ctx, []Batch{{Index: "docs", Day: "2026-01-01", Queries: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
}
