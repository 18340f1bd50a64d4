package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps every store in a single SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens (creating) the database at dsn
func NewSQLite(dsn string) (*SQLiteStorage, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "offline-cache.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache storage: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping sqlite cache storage: %w", err)
	}

	ddl := []string{`
CREATE TABLE IF NOT EXISTS caches (
	name TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS entries (
	cache TEXT NOT NULL,
	key TEXT NOT NULL,
	data BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (cache, key)
);`}

	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize cache schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *SQLiteStorage) Lookup(ctx context.Context, name string) (Store, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sqliteStore{db: s.db, name: name}, true, nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM caches WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup store %s: %w", name, err)
	}
	return true, nil
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete of store %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of store %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete of store %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStore) Match(ctx context.Context, key string) (*Response, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM entries WHERE cache = ? AND key = ?`, s.name, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cache entry: %w", err)
	}

	_, resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, resp *Response) error {
	data, err := Serialize(key, resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	// Writes only land while the store row exists
	res, err := s.db.ExecContext(ctx, `
INSERT INTO entries (cache, key, data, updated_at)
SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM caches WHERE name = ?)
ON CONFLICT (cache, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.name, key, data, time.Now().UTC(), s.name)
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE cache = ? AND key = ?`, s.name, key)
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries WHERE cache = ? ORDER BY key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
