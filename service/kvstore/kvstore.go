// Package kvstore is the client's local key-value state, kept in a single SQLite file so
// it survives between runs: the saved session, the last seen invitation count and the
// last search query.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/tracing"
	"github.com/mikeydub/go-collab/util/retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

type CacheConfig struct {
	keyPrefix   string
	displayName string
}

// Every cache is defined by its key prefix. Display names are used for tracing.
var (
	SessionCache     = CacheConfig{keyPrefix: "session", displayName: "session"}
	InvitationsCache = CacheConfig{keyPrefix: "invitations", displayName: "invitations"}
	SearchCache      = CacheConfig{keyPrefix: "search", displayName: "search"}
	ChatCache        = CacheConfig{keyPrefix: "chat", displayName: "chat"}
)

const memoryPath = ":memory:"

var contentionRetry = retry.Retry{Base: 50 * time.Millisecond, Cap: 500 * time.Millisecond, Tries: 4}

// DB is an open state file.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the state file at path, creating its directory if needed.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == memoryPath {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(2)
	}

	d := &DB{db: db}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.For(ctx).WithField("path", path).Debug("opened state db")
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate(ctx context.Context) error {
	return retryOnContention(ctx, func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`)
		return err
	})
}

// Cache returns a view of the store whose keys are namespaced by config.
func (d *DB) Cache(config CacheConfig) *Cache {
	return &Cache{db: d, keyPrefix: config.keyPrefix, displayName: config.displayName}
}

// Cache is a namespaced view of a DB.
type Cache struct {
	db          *DB
	keyPrefix   string
	displayName string
}

// Set stores value under key. A zero expiration keeps the value until it is deleted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	span, ctx := tracing.StartSpan(ctx, "kvstore.set", c.displayName)
	defer tracing.FinishSpan(span)

	now := time.Now()
	var expiresAt int64
	if expiration > 0 {
		expiresAt = now.Add(expiration).UnixMilli()
	}
	if value == nil {
		value = []byte{}
	}

	return retryOnContention(ctx, func(ctx context.Context) error {
		_, err := c.db.db.ExecContext(ctx, `
			INSERT INTO kv (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`,
			c.getPrefixedKey(key), value, expiresAt, now.UnixMilli())
		return err
	})
}

// Get returns the value stored under key, or ErrKeyNotFound if there is none or it has
// expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	span, ctx := tracing.StartSpan(ctx, "kvstore.get", c.displayName)
	defer tracing.FinishSpan(span)

	var value []byte
	var expiresAt int64
	err := retryOnContention(ctx, func(ctx context.Context) error {
		return c.db.db.QueryRowContext(ctx,
			`SELECT value, expires_at FROM kv WHERE key = ?`, c.getPrefixedKey(key),
		).Scan(&value, &expiresAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}

	if expiresAt > 0 && time.Now().UnixMilli() >= expiresAt {
		if err := c.Delete(ctx, key); err != nil {
			logger.For(ctx).WithError(err).WithField("key", key).Warn("failed to delete expired key")
		}
		return nil, ErrKeyNotFound{Key: key}
	}

	return value, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return retryOnContention(ctx, func(ctx context.Context) error {
		_, err := c.db.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, c.getPrefixedKey(key))
		return err
	})
}

func (c *Cache) SetTime(ctx context.Context, key string, value time.Time, expiration time.Duration) error {
	return c.Set(ctx, key, []byte(value.UTC().Format(time.RFC3339Nano)), expiration)
}

func (c *Cache) GetTime(ctx context.Context, key string) (time.Time, error) {
	b, err := c.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(b))
}

func (c *Cache) SetInt(ctx context.Context, key string, value int, expiration time.Duration) error {
	return c.Set(ctx, key, []byte(strconv.Itoa(value)), expiration)
}

func (c *Cache) GetInt(ctx context.Context, key string) (int, error) {
	b, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

func (c *Cache) getPrefixedKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}

	return c.keyPrefix + ":" + key
}

func retryOnContention(ctx context.Context, f func(ctx context.Context) error) error {
	err := retry.RetryFunc(ctx, f, isTransientSQLiteErr, contentionRetry)
	if errors.Is(err, retry.ErrOutOfRetries) {
		logger.For(ctx).WithError(err).Warn("state db stayed locked")
	}
	return err
}

// isTransientSQLiteErr matches lock contention errors from modernc.org/sqlite.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return code == sqlite3.SQLITE_IOERR_SHORT_READ
	}

	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
