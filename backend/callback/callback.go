// Package callback adapts a caller-supplied fetch function into a backend.
package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/checksum"
)

// Func returns the raw, still-compressed bytes of one group. It should
// return an error wrapping assetcache.ErrNotFound for missing files.
type Func func(ctx context.Context, major uint8, minor uint32) ([]byte, error)

// Backend decompresses the bytes a Func returns.
type Backend struct {
	fetch  Func
	keys   assetcache.KeyFunc
	verify bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithKeys sets the XTEA key source for encrypted groups.
func WithKeys(keys assetcache.KeyFunc) Option {
	return func(b *Backend) {
		b.keys = keys
	}
}

// WithoutVerify skips CRC checks of returned bytes.
func WithoutVerify() Option {
	return func(b *Backend) {
		b.verify = false
	}
}

// New wraps fetch.
func New(fetch Func, opts ...Option) (*Backend, error) {
	if fetch == nil {
		return nil, errors.New("callback: fetch func is nil")
	}
	b := &Backend{fetch: fetch, verify: true}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Kind returns assetcache.KindCallback.
func (b *Backend) Kind() assetcache.Kind {
	return assetcache.KindCallback
}

// GetFile fetches and decompresses one group, checking a non-zero crc
// unless verification is disabled.
func (b *Backend) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	raw, err := b.fetch(ctx, major, minor)
	if err != nil {
		return nil, err
	}
	if b.verify && crc != 0 {
		if err := checksum.Verify(raw, crc); err != nil {
			return nil, fmt.Errorf("group %d/%d: %w", major, minor, err)
		}
	}
	return assetcache.DecodeGroup(raw, major, minor, b.keys)
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

var _ assetcache.Backend = (*Backend)(nil)
