package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSchema is the DDL applied by [OpenSQLite].
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    collection  TEXT NOT NULL,
    fields      TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
`

// SQLiteStore is a [Store] backed by a SQLite database file. Fields are
// stored as JSON text and filtered with json_extract.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts options
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path and applies
// [SQLiteSchema]. The path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = ":memory:?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: sqlite: open %s: %w", path, err)
	}
	// One writer at a time; a single connection also keeps ":memory:" from
	// fanning out into separate databases.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path, opts: buildOptions(opts)}, nil
}

// Backend implements [Store].
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Create implements [Store].
func (s *SQLiteStore) Create(ctx context.Context, collection string, fields map[string]any) (Document, error) {
	if err := CheckCollection(collection); err != nil {
		return Document{}, err
	}
	normalized, raw, err := normalizeFields(fields)
	if err != nil {
		return Document{}, err
	}
	id, err := s.opts.newID()
	if err != nil {
		return Document{}, fmt.Errorf("docstore: generate id: %w", err)
	}
	now := s.opts.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, collection, string(raw), stamp, stamp)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: sqlite: create in %s: %w", collection, err)
	}
	return Document{ID: id, Fields: normalized, CreatedAt: now, UpdatedAt: now}, nil
}

// Find implements [Store].
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if err := CheckCollection(collection); err != nil {
		return nil, err
	}
	where, args, err := sqliteWhere(collection, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, s.opts.limit(limit))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE `+where+` ORDER BY seq LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: sqlite: find in %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			doc                  Document
			raw, created, update string
		)
		if err := rows.Scan(&doc.ID, &raw, &created, &update); err != nil {
			return nil, fmt.Errorf("docstore: sqlite: scan %s: %w", collection, err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Fields); err != nil {
			return nil, fmt.Errorf("docstore: sqlite: decode %s: %w", doc.ID, err)
		}
		if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("docstore: sqlite: decode %s created_at: %w", doc.ID, err)
		}
		if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, update); err != nil {
			return nil, fmt.Errorf("docstore: sqlite: decode %s updated_at: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: sqlite: iterate %s: %w", collection, err)
	}
	return docs, nil
}

// Count implements [Store].
func (s *SQLiteStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := CheckCollection(collection); err != nil {
		return 0, err
	}
	where, args, err := sqliteWhere(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: sqlite: count %s: %w", collection, err)
	}
	return n, nil
}

// Collections implements [Store].
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("docstore: sqlite: list collections: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("docstore: sqlite: scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: sqlite: list collections: %w", err)
	}
	return names, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("docstore: sqlite: ping %s: %w", s.path, err)
	}
	return nil
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteWhere builds the WHERE clause for a collection and filter. Keys are
// validated by [Filter.normalize] and bound as JSON paths, never spliced.
func sqliteWhere(collection string, filter Filter) (string, []any, error) {
	f, keys, err := filter.normalize()
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("collection = ?")
	args := make([]any, 0, 1+2*len(keys))
	args = append(args, collection)
	for _, k := range keys {
		b.WriteString(" AND json_extract(fields, ?) = ?")
		v := f[k]
		// json_extract yields 1/0 for JSON booleans.
		if bv, ok := v.(bool); ok {
			if bv {
				v = 1
			} else {
				v = 0
			}
		}
		args = append(args, "$."+k, v)
	}
	return b.String(), args, nil
}
