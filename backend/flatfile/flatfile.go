// Package flatfile serves cache files from a directory of raw group files
// laid out as <dir>/<major>/<minor>.dat.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/checksum"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

// Backend reads raw files from a directory.
type Backend struct {
	dir  string
	keys assetcache.KeyFunc
}

// Option configures a Backend.
type Option func(*Backend)

// WithKeys sets the XTEA key source for encrypted groups.
func WithKeys(keys assetcache.KeyFunc) Option {
	return func(b *Backend) {
		b.keys = keys
	}
}

// New opens the directory dir.
func New(dir string, opts ...Option) (*Backend, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("flatfile: %s is not a directory", dir)
	}
	b := &Backend{dir: dir}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Kind returns assetcache.KindFlatFile.
func (b *Backend) Kind() assetcache.Kind {
	return assetcache.KindFlatFile
}

// GetFile reads and decompresses one group. A non-zero crc is checked
// against the file's bytes.
func (b *Backend) GetFile(_ context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	raw, err := os.ReadFile(b.path(major, minor)) //nolint:gosec // path is built from numeric ids
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d/%d", assetcache.ErrNotFound, major, minor)
	}
	if err != nil {
		return nil, err
	}
	if crc != 0 {
		if err := checksum.Verify(raw, crc); err != nil {
			return nil, fmt.Errorf("group %d/%d: %w", major, minor, err)
		}
	}
	return assetcache.DecodeGroup(raw, major, minor, b.keys)
}

// WriteFile stores the raw bytes of one group, replacing any existing file.
func (b *Backend) WriteFile(major uint8, minor uint32, raw []byte) error {
	path := b.path(major, minor)
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return err
	}
	return os.WriteFile(path, raw, defaultFilePerm)
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) path(major uint8, minor uint32) string {
	return filepath.Join(b.dir, strconv.Itoa(int(major)), strconv.FormatUint(uint64(minor), 10)+".dat")
}

var _ assetcache.Backend = (*Backend)(nil)
