package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// KindSQLite is the durable SQLite backend.
const KindSQLite = "sqlite"

const sqliteFile = "vectors.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	key      TEXT PRIMARY KEY,
	seq      INTEGER NOT NULL,
	text     TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	vector   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_seq ON vectors(seq);
CREATE TABLE IF NOT EXISTS store_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteStore keeps one index in its own SQLite file and answers queries by exact scan.
// Writes go through a single connection in one transaction; reads use a separate
// pool so that, in WAL mode, queries never wait on a writer.
type SQLiteStore struct {
	opts Options
	path string

	writeMu sync.Mutex
	writer  *sql.DB
	reader  *sql.DB

	closeOnce sync.Once
}

var _ VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates dir/vectors.db. An empty dir opens an in-memory database.
func NewSQLiteStore(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{opts: opts}
	if opts.Location == "" {
		// An in-memory database lives in its one connection; readers share it.
		db, err := openSQLite(":memory:", 1)
		if err != nil {
			return nil, err
		}
		s.writer, s.reader = db, db
	} else {
		if err := os.MkdirAll(opts.Location, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", opts.Location, err)
		}
		s.path = filepath.Join(opts.Location, sqliteFile)

		writer, err := openSQLite(s.path+"?_txlock=immediate", 1)
		if err != nil {
			return nil, err
		}
		// WAL mode for concurrent access; persists in the file once set.
		if _, err := writer.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
		reader, err := openSQLite(s.path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)", 4)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		s.writer, s.reader = writer, reader
	}

	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openSQLite(dsn string, conns int) (*sql.DB, error) {
	// IMPORTANT: Use modernc.org/sqlite driver (pure Go, no CGO)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if conns == 1 {
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to set pragma: %w", err)
			}
		}
	}
	return db, nil
}

// init creates the schema and pins dimension and metric on first open.
func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	want := map[string]string{
		"dimensions": fmt.Sprint(s.opts.Dimensions),
		"metric":     string(s.opts.Metric),
	}
	for k, v := range want {
		if _, err := s.writer.ExecContext(ctx,
			`INSERT INTO store_info(key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, k, v); err != nil {
			return fmt.Errorf("write store info: %w", err)
		}
		var got string
		if err := s.writer.QueryRowContext(ctx, `SELECT value FROM store_info WHERE key = ?`, k).Scan(&got); err != nil {
			return fmt.Errorf("read store info: %w", err)
		}
		if got != v {
			return fmt.Errorf("sqlite store %s has %s=%s, index expects %s", s.path, k, got, v)
		}
	}
	return nil
}

// Upsert replaces records by key inside one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(s.opts.Dimensions, records); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM vectors`).Scan(&seq); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}

	// A replaced key keeps its original position so scan order stays stable.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors(key, seq, text, metadata, vector) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		seq++
		if _, err := stmt.ExecContext(ctx, r.Key, seq, r.Text, meta, encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("upsert %q: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query scans every stored vector and ranks them.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := checkQuery(s.opts.Dimensions, vector, k); err != nil {
		return nil, err
	}

	rows, err := s.reader.QueryContext(ctx, `SELECT key, text, metadata, vector FROM vectors ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta string
			blob []byte
		)
		if err := rows.Scan(&m.Key, &m.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		vec, err := decodeVector(blob, s.opts.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", m.Key, err)
		}
		if m.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("record %q: %w", m.Key, err)
		}
		m.Score = s.opts.Metric.Score(vector, vec)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	if matches == nil {
		return []Match{}, nil
	}
	return rank(s.opts.Metric, matches, k), nil
}

// Delete removes records by key in one transaction.
func (s *SQLiteStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// Has looks keys up one by one on the reader pool.
func (s *SQLiteStore) Has(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, key := range keys {
		var one int
		err := s.reader.QueryRowContext(ctx, `SELECT 1 FROM vectors WHERE key = ?`, key).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("look up %q: %w", key, err)
		default:
			out[i] = true
		}
	}
	return out, nil
}

func (s *SQLiteStore) Dimensions() int { return s.opts.Dimensions }
func (s *SQLiteStore) Metric() Metric  { return s.opts.Metric }

// Close closes both pools.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.reader != nil && s.reader != s.writer {
			err = s.reader.Close()
		}
		if s.writer != nil {
			if werr := s.writer.Close(); err == nil {
				err = werr
			}
		}
	})
	return err
}

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != 4*dims {
		return nil, fmt.Errorf("stored vector has %d bytes, want %d", len(b), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// SQLiteFactory opens SQLite stores under root/<index>.
type SQLiteFactory struct {
	root string
}

// NewSQLiteFactory creates a factory. An empty root opens in-memory databases.
func NewSQLiteFactory(root string) *SQLiteFactory {
	return &SQLiteFactory{root: root}
}

func (f *SQLiteFactory) Kind() string { return KindSQLite }

func (f *SQLiteFactory) Location(index string) string {
	if f.root == "" {
		return ""
	}
	return filepath.Join(f.root, index)
}

func (f *SQLiteFactory) Open(ctx context.Context, opts Options) (VectorStore, error) {
	return NewSQLiteStore(ctx, opts)
}

func (f *SQLiteFactory) Remove(_ context.Context, opts Options) error {
	if opts.Location == "" {
		return nil
	}
	return os.RemoveAll(opts.Location)
}
