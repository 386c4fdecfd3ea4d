// Package catalog persists index records: the name -> configuration table
// every index lookup starts from. It is a single SQLite file with versioned
// schema migrations.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// FileName is the catalog database file inside the data directory.
const FileName = "catalog.db"

// Record is the persisted description of one index. It never changes after creation.
type Record struct {
	Name       string `json:"name"`
	Model      string `json:"embedding_model"`
	Dimensions int    `json:"vector_dim"`
	Metric     string `json:"metric"`
	Splitter   string `json:"splitter"`
	Pattern    string `json:"pattern,omitempty"`
	// DedupFields are the metadata fields hashed into a fragment's dedup key.
	DedupFields []string  `json:"dedup_fields,omitempty"`
	Backend     string    `json:"backend"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// migration upgrades the schema by one version.
type migration struct {
	version int
	stmt    string
}

// migrations are applied in order; never edit a released entry.
var migrations = []migration{
	{1, `
	CREATE TABLE IF NOT EXISTS indexes (
		name             TEXT PRIMARY KEY,
		model            TEXT NOT NULL,
		dimensions       INTEGER NOT NULL CHECK (dimensions > 0),
		metric           TEXT NOT NULL,
		splitter         TEXT NOT NULL,
		splitter_pattern TEXT NOT NULL DEFAULT '',
		backend          TEXT NOT NULL,
		location         TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL
	);`},
	{2, `ALTER TABLE indexes ADD COLUMN dedup_fields TEXT NOT NULL DEFAULT '[]';`},
	{3, `
	CREATE TABLE IF NOT EXISTS query_stats (
		index_name   TEXT NOT NULL,
		day          TEXT NOT NULL,
		queries      INTEGER NOT NULL DEFAULT 0,
		zero_results INTEGER NOT NULL DEFAULT 0,
		repeats      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (index_name, day)
	);
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		index_name TEXT NOT NULL,
		day        TEXT NOT NULL,
		bucket     TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (index_name, day, bucket)
	);
	CREATE TABLE IF NOT EXISTS query_terms (
		index_name TEXT NOT NULL,
		term       TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		last_seen  INTEGER NOT NULL,
		PRIMARY KEY (index_name, term)
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(index_name, count DESC);
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		index_name TEXT NOT NULL,
		query      TEXT NOT NULL,
		at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_zero_result_queries ON zero_result_queries(index_name, id);`},
}

// statsTables hold per-index search statistics and are cleared with the record.
var statsTables = []string{"query_stats", "query_latency_stats", "query_terms", "zero_result_queries"}

// SchemaVersion is the schema version this build writes.
var SchemaVersion = migrations[len(migrations)-1].version

// Catalog is the index record table.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog in dir. An empty dir opens an in-memory catalog.
func Open(ctx context.Context, dir string) (*Catalog, error) {
	dsn := ":memory:"
	path := ""
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		path = filepath.Join(dir, FileName)
		dsn = path + "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &Catalog{db: db, path: path}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// DB returns the underlying database for tables that live beside the records.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Path returns the database file, empty for an in-memory catalog.
func (c *Catalog) Path() string {
	return c.path
}

// Version returns the applied schema version.
func (c *Catalog) Version(ctx context.Context) (int, error) {
	var v int
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

func (c *Catalog) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := c.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SchemaVersion {
		return ixerrors.New(ixerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("catalog schema v%d is newer than this build (v%d)", current, SchemaVersion), nil).
			WithSuggestion("Upgrade indexify")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("catalog migration v%d: %w", m.version, err)
		}
		slog.Debug("catalog_migrated", slog.Int("version", m.version), slog.String("path", c.path))
	}
	return nil
}

// Insert stores rec if no record with its name exists.
// A taken name fails with IndexAlreadyExists and leaves the existing record untouched.
func (c *Catalog) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	fields, err := json.Marshal(nonNil(rec.DedupFields))
	if err != nil {
		return fmt.Errorf("encode dedup fields: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO indexes(name, model, dimensions, metric, splitter, splitter_pattern,
			backend, location, created_at, dedup_fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		rec.Name, rec.Model, rec.Dimensions, rec.Metric, rec.Splitter, rec.Pattern,
		rec.Backend, rec.Location, rec.CreatedAt.UnixMilli(), string(fields))
	if err != nil {
		return ixerrors.New(ixerrors.ErrCodeCatalog, "insert index record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ixerrors.New(ixerrors.ErrCodeCatalog, "insert index record", err)
	}
	if n == 0 {
		return ixerrors.IndexAlreadyExists(rec.Name)
	}
	return nil
}

const selectRecord = `SELECT name, model, dimensions, metric, splitter, splitter_pattern,
	backend, location, created_at, dedup_fields FROM indexes`

// Get returns the record for name, or nil if there is none.
func (c *Catalog) Get(ctx context.Context, name string) (*Record, error) {
	rec, err := scanRecord(c.db.QueryRowContext(ctx, selectRecord+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeCatalog, fmt.Sprintf("read index record %q", name), err)
	}
	return rec, nil
}

// List returns every record ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, selectRecord+` ORDER BY name`)
	if err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeCatalog, "list index records", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, ixerrors.New(ixerrors.ErrCodeCatalog, "list index records", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ixerrors.New(ixerrors.ErrCodeCatalog, "list index records", err)
	}
	return out, nil
}

// Delete removes the record for name and its search statistics, and reports
// whether a record existed.
func (c *Catalog) Delete(ctx context.Context, name string) (bool, error) {
	fail := func(err error) (bool, error) {
		return false, ixerrors.New(ixerrors.ErrCodeCatalog, fmt.Sprintf("delete index record %q", name), err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE name = ?`, name)
	if err != nil {
		return fail(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail(err)
	}
	for _, table := range statsTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE index_name = ?`, name); err != nil {
			return fail(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return n > 0, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec     Record
		created int64
		fields  string
	)
	if err := row.Scan(&rec.Name, &rec.Model, &rec.Dimensions, &rec.Metric, &rec.Splitter, &rec.Pattern,
		&rec.Backend, &rec.Location, &created, &fields); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	if err := json.Unmarshal([]byte(fields), &rec.DedupFields); err != nil {
		return nil, fmt.Errorf("decode dedup fields of %q: %w", rec.Name, err)
	}
	if len(rec.DedupFields) == 0 {
		rec.DedupFields = nil
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
