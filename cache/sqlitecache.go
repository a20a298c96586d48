package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteCacheConfig configures the SQLite-backed projection cache.
type SQLiteCacheConfig struct {
	// DSN is the database connection string, e.g. "file:snapshots.db".
	DSN string
}

// SQLiteProjectionCache persists projection snapshots to a SQLite database.
// It satisfies ProjectionCache and enables WAL mode so readers don't block
// behind an in-flight snapshot write.
type SQLiteProjectionCache struct {
	db *sql.DB
}

// NewSQLiteProjectionCache opens (or creates) a SQLite-backed projection cache.
func NewSQLiteProjectionCache(cfg SQLiteCacheConfig) (*SQLiteProjectionCache, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitecache: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitecache: create schema: %w", err)
	}

	return &SQLiteProjectionCache{db: db}, nil
}

func (c *SQLiteProjectionCache) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM projection_snapshots WHERE key = ?`, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitecache: load %q: %w", key, err)
	}
	return payload, true, nil
}

func (c *SQLiteProjectionCache) Store(ctx context.Context, key string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO projection_snapshots (key, payload, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, data, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlitecache: store %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *SQLiteProjectionCache) Close() error {
	return c.db.Close()
}

// Compile-time interface check.
var _ ProjectionCache = (*SQLiteProjectionCache)(nil)
