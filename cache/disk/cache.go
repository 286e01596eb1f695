// Package disk stores raw cache files on the local filesystem.
//
// Files are keyed by (major, minor, crc) so a file whose checksum changes
// upstream is fetched again rather than served stale. The store is safe
// for concurrent use and can be bounded, in which case the oldest files
// are pruned first.
package disk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
)

const defaultDirPerm = 0o700

// Key identifies one raw file.
type Key struct {
	Major uint8
	Minor uint32
	CRC   uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d@%08x", k.Major, k.Minor, k.CRC)
}

// Cache is a directory of raw files laid out as <dir>/<major>/<minor>-<crc>.dat.
type Cache struct {
	dir      string
	dirPerm  os.FileMode
	maxBytes int64        // 0 = unlimited
	bytes    atomic.Int64 // current total size of stored files
	pruneMu  sync.Mutex
	logger   *slog.Logger
}

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of stored files.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithLogger sets the logger for prune events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New opens a disk cache rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:     dir,
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Get returns the stored bytes for key.
func (c *Cache) Get(key Key) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key)) //nolint:gosec // path is built from numeric key fields
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under key. Existing entries are left untouched. Data
// larger than the size limit is silently not stored.
func (c *Cache) Put(key Key, data []byte) error {
	path := c.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	need := int64(len(data))
	if ok, err := c.ensureCapacity(need); err != nil {
		_ = os.Remove(tmpPath)
		return err
	} else if !ok {
		_ = os.Remove(tmpPath)
		return nil
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	c.bytes.Add(need)
	return nil
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key Key) error {
	path := c.path(key)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.bytes.Add(-info.Size())
	return nil
}

// MaxBytes returns the configured size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current total size of stored files.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest files until the store holds at most targetBytes.
// It returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	if freed > 0 {
		c.logger.Debug("disk cache pruned", "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

func (c *Cache) path(key Key) string {
	name := strconv.FormatUint(uint64(key.Minor), 10) + "-" + fmt.Sprintf("%08x", key.CRC) + ".dat"
	return filepath.Join(c.dir, strconv.Itoa(int(key.Major)), name)
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
