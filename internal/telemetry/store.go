package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MaxStoredZeroResults is how many zero-result queries are kept per index.
const MaxStoredZeroResults = 100

// SQLiteStore implements Store on the catalog database. The tables are created
// by the catalog migrations and rows are removed with the index record.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on db, which stays owned by the caller.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// Save adds batches to the stored totals.
func (s *SQLiteStore) Save(ctx context.Context, batches []Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range batches {
		if err := saveBatch(ctx, tx, b); err != nil {
			return fmt.Errorf("save telemetry for %q: %w", b.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func saveBatch(ctx context.Context, tx *sql.Tx, b Batch) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_stats (index_name, day, queries, zero_results, repeats)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_name, day) DO UPDATE SET
			queries = queries + excluded.queries,
			zero_results = zero_results + excluded.zero_results,
			repeats = repeats + excluded.repeats`,
		b.Index, b.Day, b.Queries, b.ZeroResults, b.Repeats); err != nil {
		return fmt.Errorf("upsert query counts: %w", err)
	}

	for bucket, n := range b.Latencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (index_name, day, bucket, count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(index_name, day, bucket) DO UPDATE SET count = count + excluded.count`,
			b.Index, b.Day, string(bucket), n); err != nil {
			return fmt.Errorf("upsert latency count: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (index_name, term, count, last_seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(index_name, term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = excluded.last_seen`,
			b.Index, term, n, now); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if len(b.ZeroResultQueries) == 0 {
		return nil
	}
	for _, q := range b.ZeroResultQueries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (index_name, query, at) VALUES (?, ?, ?)`,
			b.Index, q.Query, q.At.UnixMilli()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM zero_result_queries
		WHERE index_name = ? AND id NOT IN (
			SELECT id FROM zero_result_queries
			WHERE index_name = ?
			ORDER BY id DESC
			LIMIT ?
		)`, b.Index, b.Index, MaxStoredZeroResults); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// Load returns the stored totals of index.
func (s *SQLiteStore) Load(ctx context.Context, index string, topTerms, recent int) (*Stats, error) {
	stats := &Stats{
		Index:               index,
		LatencyDistribution: make(map[LatencyBucket]int64),
	}

	var firstDay sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(queries), 0), COALESCE(SUM(zero_results), 0),
			COALESCE(SUM(repeats), 0), MIN(day)
		FROM query_stats WHERE index_name = ?`, index).
		Scan(&stats.TotalQueries, &stats.ZeroResultCount, &stats.RepeatCount, &firstDay); err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	stats.FirstDay = firstDay.String

	if err := s.loadLatencies(ctx, stats); err != nil {
		return nil, err
	}
	if err := s.loadTerms(ctx, stats, topTerms); err != nil {
		return nil, err
	}
	if err := s.loadZeroResults(ctx, stats, recent); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) loadLatencies(ctx context.Context, stats *Stats) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE index_name = ? GROUP BY bucket`, stats.Index)
	if err != nil {
		return fmt.Errorf("query latency counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			bucket string
			n      int64
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		stats.LatencyDistribution[LatencyBucket(bucket)] = n
	}
	return rows.Err()
}

func (s *SQLiteStore) loadTerms(ctx context.Context, stats *Stats, limit int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count FROM query_terms
		WHERE index_name = ?
		ORDER BY count DESC, term
		LIMIT ?`, stats.Index, limit)
	if err != nil {
		return fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		stats.TopTerms = append(stats.TopTerms, tc)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadZeroResults(ctx context.Context, stats *Stats, limit int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, at FROM zero_result_queries
		WHERE index_name = ?
		ORDER BY id DESC
		LIMIT ?`, stats.Index, limit)
	if err != nil {
		return fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			q  ZeroResultQuery
			at int64
		)
		if err := rows.Scan(&q.Query, &at); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		q.At = time.UnixMilli(at)
		stats.ZeroResultQueries = append(stats.ZeroResultQueries, q)
	}
	return rows.Err()
}
