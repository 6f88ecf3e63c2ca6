package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// SQLiteCache implements Cache on a local SQLite file, so stale fallback
// data survives a restart.
type SQLiteCache struct {
	db    *sql.DB
	clock clockwork.Clock
}

// OpenSQLiteCache opens (creating if needed) the cache database at path.
func OpenSQLiteCache(path string, clock clockwork.Clock) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &SQLiteCache{db: db, clock: clock}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key         TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			inserted_at INTEGER NOT NULL,
			ttl_ms      INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Get implements Cache.Get.
func (c *SQLiteCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		value      []byte
		insertedMs int64
		ttlMs      int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, inserted_at, ttl_ms FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &insertedMs, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return Entry{
		Value:      value,
		InsertedAt: time.UnixMilli(insertedMs).UTC(),
		TTL:        time.Duration(ttlMs) * time.Millisecond,
	}, true, nil
}

// Set implements Cache.Set as an upsert.
func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, inserted_at, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			inserted_at = excluded.inserted_at,
			ttl_ms = excluded.ttl_ms
	`, key, value, c.clock.Now().UnixMilli(), ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

// Prune deletes entries that expired more than retention ago.
func (c *SQLiteCache) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := c.clock.Now().Add(-retention).UnixMilli()
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE inserted_at + ttl_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Ping checks the database connection.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
