package sqlitepool_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meigma/assetcache/internal/sqlitepool"
)

const schema = `CREATE TABLE IF NOT EXISTS blobs (id INTEGER PRIMARY KEY, data BLOB);`

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	assert.Equal(t, path, pool.Path())

	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)

	err = sqlitex.Execute(conn, "INSERT INTO blobs (id, data) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{1, []byte("x")},
	})
	require.NoError(t, err)
}

func TestOpenReadOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ro.db")
	rw, err := sqlitepool.Open(sqlitepool.Config{
		Path: path,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	require.NoError(t, err)
	conn, err := rw.Take(context.Background())
	require.NoError(t, err)
	rw.Put(conn)
	require.NoError(t, rw.Close())

	ro, err := sqlitepool.Open(sqlitepool.Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	conn, err = ro.Take(context.Background())
	require.NoError(t, err)
	defer ro.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO blobs (id, data) VALUES (1, x'00')", nil)
	assert.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := sqlitepool.Open(sqlitepool.Config{})
	require.Error(t, err)
}
