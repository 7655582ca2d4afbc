package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the SQL DDL for the documents table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
    seq         BIGSERIAL PRIMARY KEY,
    id          TEXT NOT NULL UNIQUE,
    collection  TEXT NOT NULL,
    fields      JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
CREATE INDEX IF NOT EXISTS idx_documents_fields ON documents USING GIN (fields jsonb_path_ops);
`

// maxIDAttempts bounds how often Create regenerates an ID after a unique
// violation.
const maxIDAttempts = 3

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a single PostgreSQL table. Document
// fields live in a JSONB column; filters use JSONB containment.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
	opts options
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on top of an existing connection
// or pool. The caller is responsible for calling [PostgresStore.Migrate] and
// for closing db.
func NewPostgresStore(db DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

// OpenPostgres connects a pool to dsn, verifies it with a ping and applies
// [PostgresSchema]. [PostgresStore.Close] closes the pool.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("docstore: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: postgres: ping: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool, opts: buildOptions(opts)}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema], creating the documents table and its
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("docstore: postgres: migrate: %w", err)
	}
	return nil
}

// Backend implements [Store].
func (s *PostgresStore) Backend() string { return "postgres" }

// Create implements [Store]. Timestamps are assigned by the database.
func (s *PostgresStore) Create(ctx context.Context, collection string, fields map[string]any) (Document, error) {
	if err := CheckCollection(collection); err != nil {
		return Document{}, err
	}
	normalized, raw, err := normalizeFields(fields)
	if err != nil {
		return Document{}, err
	}

	const query = `
		INSERT INTO documents (id, collection, fields)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	for attempt := 1; ; attempt++ {
		id, err := s.opts.newID()
		if err != nil {
			return Document{}, fmt.Errorf("docstore: generate id: %w", err)
		}
		doc := Document{ID: id, Fields: normalized}
		err = s.db.QueryRow(ctx, query, id, collection, raw).Scan(&doc.CreatedAt, &doc.UpdatedAt)
		if err == nil {
			doc.CreatedAt = doc.CreatedAt.UTC()
			doc.UpdatedAt = doc.UpdatedAt.UTC()
			return doc, nil
		}
		if isDuplicateKeyError(err) && attempt < maxIDAttempts {
			continue
		}
		return Document{}, fmt.Errorf("docstore: postgres: create in %s: %w", collection, err)
	}
}

// Find implements [Store].
func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if err := CheckCollection(collection); err != nil {
		return nil, err
	}
	match, err := containment(filter)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, fields, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND fields @> $2::jsonb
		ORDER BY seq
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, collection, match, s.opts.limit(limit))
	if err != nil {
		return nil, fmt.Errorf("docstore: postgres: find in %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			doc Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("docstore: postgres: scan %s: %w", collection, err)
		}
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return nil, fmt.Errorf("docstore: postgres: decode %s: %w", doc.ID, err)
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: postgres: iterate %s: %w", collection, err)
	}
	return docs, nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := CheckCollection(collection); err != nil {
		return 0, err
	}
	match, err := containment(filter)
	if err != nil {
		return 0, err
	}

	const query = `SELECT count(*) FROM documents WHERE collection = $1 AND fields @> $2::jsonb`

	var n int64
	if err := s.db.QueryRow(ctx, query, collection, match).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: postgres: count %s: %w", collection, err)
	}
	return int(n), nil
}

// Collections implements [Store].
func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("docstore: postgres: list collections: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("docstore: postgres: scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: postgres: list collections: %w", err)
	}
	return names, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("docstore: postgres: ping: %w", err)
		}
		return nil
	}
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("docstore: postgres: ping: %w", err)
	}
	return nil
}

// Close implements [Store]. Only a pool opened by [OpenPostgres] is closed.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// containment encodes a filter as the JSON object used with the @> operator.
func containment(filter Filter) ([]byte, error) {
	f, _, err := filter.normalize()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return raw, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
