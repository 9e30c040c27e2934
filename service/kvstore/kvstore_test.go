package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	t.Run("set then get", func(t *testing.T) {
		c := db.Cache(SearchCache)
		require.NoError(t, c.Set(ctx, "query", []byte("cats"), 0))

		v, err := c.Get(ctx, "query")
		require.NoError(t, err)
		assert.Equal(t, "cats", string(v))
	})

	t.Run("set overwrites", func(t *testing.T) {
		c := db.Cache(SearchCache)
		require.NoError(t, c.Set(ctx, "query", []byte("dogs"), 0))

		v, err := c.Get(ctx, "query")
		require.NoError(t, err)
		assert.Equal(t, "dogs", string(v))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := db.Cache(SearchCache).Get(ctx, "nope")
		var notFound ErrKeyNotFound
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "nope", notFound.Key)
	})

	t.Run("caches do not see each other's keys", func(t *testing.T) {
		require.NoError(t, db.Cache(SessionCache).Set(ctx, "shared", []byte("session"), 0))
		require.NoError(t, db.Cache(ChatCache).Set(ctx, "shared", []byte("chat"), 0))

		v, err := db.Cache(SessionCache).Get(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, "session", string(v))
	})

	t.Run("expired values are gone", func(t *testing.T) {
		c := db.Cache(InvitationsCache)
		require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, err := c.Get(ctx, "short")
		assert.ErrorAs(t, err, &ErrKeyNotFound{})
	})

	t.Run("delete", func(t *testing.T) {
		c := db.Cache(SessionCache)
		require.NoError(t, c.Set(ctx, "gone", []byte("x"), 0))
		require.NoError(t, c.Delete(ctx, "gone"))
		require.NoError(t, c.Delete(ctx, "never-existed"))

		_, err := c.Get(ctx, "gone")
		assert.ErrorAs(t, err, &ErrKeyNotFound{})
	})

	t.Run("typed helpers", func(t *testing.T) {
		c := db.Cache(InvitationsCache)
		require.NoError(t, c.SetInt(ctx, "count", 7, 0))
		n, err := c.GetInt(ctx, "count")
		require.NoError(t, err)
		assert.Equal(t, 7, n)

		at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
		require.NoError(t, c.SetTime(ctx, "seen", at, 0))
		got, err := c.GetTime(ctx, "seen")
		require.NoError(t, err)
		assert.True(t, at.Equal(got))
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	db, path := openTestDB(t)
	require.NoError(t, db.Cache(SessionCache).Set(ctx, "user", []byte("u1"), 0))
	require.NoError(t, db.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Cache(SessionCache).Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "u1", string(v))
}

func TestMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Cache(SearchCache).Set(ctx, "q", []byte("x"), 0))
	_, err = db.Cache(SearchCache).Get(ctx, "q")
	assert.NoError(t, err)
}

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked: kv"), true},
		{errors.New("no such table: kv"), false},
		{errors.New("expected 1 row, got (5)"), false},
		{errors.New("request failed (522)"), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, isTransientSQLiteErr(tc.err))
	}

	t.Run("driver errors are matched by code", func(t *testing.T) {
		db, err := Open(context.Background(), memoryPath)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.db.Exec("SELECT * FROM missing_table")
		require.Error(t, err)
		assert.False(t, isTransientSQLiteErr(err))
	})
}
