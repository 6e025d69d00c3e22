// Package store persists formatter results in SQLite so that unchanged DSL
// text is never sent to the external formatter twice.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"dqlfmt/internal/logging"

	_ "modernc.org/sqlite"
)

// DefaultPath is the cache location relative to the user cache directory.
const DefaultPath = "dqlfmt/cache.db"

// FormatCache is a SQLite-backed formatter.Cache.
type FormatCache struct {
	db     *sql.DB
	dbPath string
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports cache usage for the current process and the table size.
type CacheStats struct {
	Entries int64
	Hits    int64
	Misses  int64
}

// ResolvePath expands an empty or relative cache path.
func ResolvePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate user cache dir: %w", err)
		}
		return filepath.Join(dir, DefaultPath), nil
	}
	return filepath.Abs(path)
}

// OpenFormatCache opens (creating if needed) the cache database at path.
func OpenFormatCache(path string) (*FormatCache, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenFormatCache")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	c := &FormatCache{db: db, dbPath: path}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("format cache ready at %s", path)
	return c, nil
}

func (c *FormatCache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS format_cache (
		identity TEXT NOT NULL,
		key TEXT NOT NULL,
		formatted TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (identity, key)
	);
	CREATE INDEX IF NOT EXISTS idx_format_cache_last_used ON format_cache(last_used);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create format_cache table: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (c *FormatCache) Path() string {
	return c.dbPath
}

// Get looks up a formatted result.
func (c *FormatCache) Get(ctx context.Context, identity, key string) (string, bool, error) {
	var formatted string
	err := c.db.QueryRowContext(ctx,
		"SELECT formatted FROM format_cache WHERE identity = ? AND key = ?",
		identity, key).Scan(&formatted)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query format cache: %w", err)
	}
	c.hits.Add(1)

	if _, err := c.db.ExecContext(ctx,
		"UPDATE format_cache SET last_used = CURRENT_TIMESTAMP WHERE identity = ? AND key = ?",
		identity, key); err != nil {
		logging.StoreWarn("failed to touch cache entry: %v", err)
	}
	return formatted, true, nil
}

// Put stores a formatted result, replacing any previous entry.
func (c *FormatCache) Put(ctx context.Context, identity, key, formatted string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO format_cache (identity, key, formatted) VALUES (?, ?, ?)
		ON CONFLICT(identity, key) DO UPDATE SET
			formatted = excluded.formatted,
			last_used = CURRENT_TIMESTAMP`,
		identity, key, formatted)
	if err != nil {
		return fmt.Errorf("failed to store format cache entry: %w", err)
	}
	return nil
}

// Prune deletes entries not used for maxAge and returns how many went.
func (c *FormatCache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format("2006-01-02 15:04:05")
	res, err := c.db.ExecContext(ctx, "DELETE FROM format_cache WHERE last_used < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune format cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("pruned %d cache entries older than %s", n, maxAge)
	}
	return n, nil
}

// Clear removes every entry.
func (c *FormatCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM format_cache"); err != nil {
		return fmt.Errorf("failed to clear format cache: %w", err)
	}
	return nil
}

// Stats returns the entry count and this process's hit/miss counters.
func (c *FormatCache) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM format_cache").Scan(&stats.Entries); err != nil {
		return stats, fmt.Errorf("failed to count format cache: %w", err)
	}
	return stats, nil
}

// Close closes the database.
func (c *FormatCache) Close() error {
	return c.db.Close()
}
