// Package live serves cache files from the live content server.
package live

import (
	"context"
	"log/slog"

	"github.com/meigma/assetcache"
)

// Downloader fetches raw group bytes. *download.Client satisfies it.
type Downloader interface {
	GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error)
	Close() error
}

// Backend decompresses files downloaded from the content server.
type Backend struct {
	client Downloader
	keys   assetcache.KeyFunc
	logger *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithKeys sets the XTEA key source for encrypted groups.
func WithKeys(keys assetcache.KeyFunc) Option {
	return func(b *Backend) {
		b.keys = keys
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a live backend over client. The backend owns client and
// closes it on Close.
func New(client Downloader, opts ...Option) *Backend {
	b := &Backend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Kind returns assetcache.KindLive.
func (b *Backend) Kind() assetcache.Kind {
	return assetcache.KindLive
}

// GetFile downloads and decompresses one group. The client verifies crc.
func (b *Backend) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	raw, err := b.client.GetFile(ctx, major, minor, crc)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("group downloaded", "major", major, "minor", minor, "size", len(raw))
	return assetcache.DecodeGroup(raw, major, minor, b.keys)
}

// Close closes the download client.
func (b *Backend) Close() error {
	return b.client.Close()
}

var _ assetcache.Backend = (*Backend)(nil)
