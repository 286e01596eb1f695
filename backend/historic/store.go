package historic

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meigma/assetcache/cache/disk"
	"github.com/meigma/assetcache/internal/sqlitepool"
)

// RawStore keeps raw group bytes keyed by (major, minor, crc).
type RawStore interface {
	Load(ctx context.Context, major uint8, minor, crc uint32) ([]byte, bool, error)
	Store(ctx context.Context, major uint8, minor, crc uint32, raw []byte) error
	Close() error
}

const groupsSchema = `
CREATE TABLE IF NOT EXISTS groups (
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL,
	crc INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (major, minor, crc)
);
`

// SQLiteStore is a RawStore in a single SQLite database.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, groupsSchema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{pool: pool}, nil
}

// Load returns the stored bytes for (major, minor, crc).
func (s *SQLiteStore) Load(ctx context.Context, major uint8, minor, crc uint32) ([]byte, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.Put(conn)

	var (
		data  []byte
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT data FROM groups WHERE major = ? AND minor = ? AND crc = ?", &sqlitex.ExecOptions{
		Args: []any{int64(major), int64(minor), int64(crc)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			data = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, data)
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("load group %d/%d: %w", major, minor, err)
	}
	return data, found, nil
}

// Store saves raw under (major, minor, crc).
func (s *SQLiteStore) Store(ctx context.Context, major uint8, minor, crc uint32, raw []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT OR REPLACE INTO groups (major, minor, crc, data) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{int64(major), int64(minor), int64(crc), raw},
	})
	if err != nil {
		return fmt.Errorf("store group %d/%d: %w", major, minor, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// DiskStore adapts a disk cache to RawStore.
type DiskStore struct {
	cache *disk.Cache
}

// NewDiskStore wraps c.
func NewDiskStore(c *disk.Cache) *DiskStore {
	return &DiskStore{cache: c}
}

// Load returns the stored bytes for (major, minor, crc).
func (s *DiskStore) Load(_ context.Context, major uint8, minor, crc uint32) ([]byte, bool, error) {
	data, ok := s.cache.Get(disk.Key{Major: major, Minor: minor, CRC: crc})
	return data, ok, nil
}

// Store saves raw under (major, minor, crc).
func (s *DiskStore) Store(_ context.Context, major uint8, minor, crc uint32, raw []byte) error {
	return s.cache.Put(disk.Key{Major: major, Minor: minor, CRC: crc}, raw)
}

// Close is a no-op; the disk cache holds no open resources.
func (s *DiskStore) Close() error {
	return nil
}

var (
	_ RawStore = (*SQLiteStore)(nil)
	_ RawStore = (*DiskStore)(nil)
)
