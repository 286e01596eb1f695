// Package historic serves cache files from a public archive of historical
// cache snapshots.
//
// A snapshot is selected by numeric id. Open resolves the id against the
// archive's catalog and downloads the snapshot's XTEA key list; groups are
// then fetched one at a time over HTTP and can be kept in a RawStore so
// repeated runs do not download them again.
package historic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/checksum"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/internal/sizing"
)

const (
	// DefaultBaseURL is the public snapshot archive.
	DefaultBaseURL = "https://archive.openrs2.org"

	// DefaultScope is the catalog scope snapshots are looked up in.
	DefaultScope = "runescape"

	maxResponseSize = 1 << 30
)

var (
	// ErrSnapshotNotFound is returned when the catalog has no snapshot
	// with the requested id.
	ErrSnapshotNotFound = errors.New("assetcache: snapshot not found")

	errResponseTooLarge = errors.New("response too large")
)

// Build is a client build a snapshot was captured from.
type Build struct {
	Major int  `json:"major"`
	Minor *int `json:"minor"`
}

// Info describes a snapshot as listed in the catalog.
type Info struct {
	ID          int        `json:"id"`
	Scope       string     `json:"scope"`
	Game        string     `json:"game"`
	Environment string     `json:"environment"`
	Language    string     `json:"language"`
	Builds      []Build    `json:"builds"`
	Timestamp   *time.Time `json:"timestamp"`
}

type keyEntry struct {
	Archive int      `json:"archive"`
	Group   uint32   `json:"group"`
	Key     [4]int32 `json:"key"`
}

// Backend reads one snapshot.
type Backend struct {
	base   string
	scope  string
	id     int
	client *nethttp.Client
	store  RawStore
	logger *slog.Logger

	info Info
	keys assetcache.StaticKeys
}

// Option configures a Backend.
type Option func(*Backend)

// WithBaseURL sets the archive's base URL.
func WithBaseURL(url string) Option {
	return func(b *Backend) {
		b.base = strings.TrimRight(url, "/")
	}
}

// WithScope sets the catalog scope.
func WithScope(scope string) Option {
	return func(b *Backend) {
		b.scope = scope
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithRawStore keeps downloaded groups in store.
func WithRawStore(store RawStore) Option {
	return func(b *Backend) {
		b.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Open resolves snapshot id and loads its key list. The catalog and the
// key list are fetched concurrently.
func Open(ctx context.Context, id int, opts ...Option) (*Backend, error) {
	b := &Backend{
		base:   DefaultBaseURL,
		scope:  DefaultScope,
		id:     id,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = nethttp.DefaultClient
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := b.resolve(gctx)
		if err != nil {
			return err
		}
		b.info = info
		return nil
	})
	g.Go(func() error {
		keys, err := b.loadKeys(gctx)
		if err != nil {
			return err
		}
		b.keys = keys
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.logger.Info("snapshot opened",
		"id", id,
		"scope", b.scope,
		"game", b.info.Game,
		"keys", b.keyCount(),
	)
	return b, nil
}

// resolve finds the snapshot in the catalog.
func (b *Backend) resolve(ctx context.Context) (Info, error) {
	body, err := b.get(ctx, b.base+"/caches.json")
	if err != nil {
		return Info{}, fmt.Errorf("catalog: %w", err)
	}
	var catalog []Info
	if err := json.Unmarshal(body, &catalog); err != nil {
		return Info{}, fmt.Errorf("catalog: %w", err)
	}
	for _, info := range catalog {
		if info.ID == b.id && info.Scope == b.scope {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s/%d", ErrSnapshotNotFound, b.scope, b.id)
}

func (b *Backend) loadKeys(ctx context.Context) (assetcache.StaticKeys, error) {
	body, err := b.get(ctx, fmt.Sprintf("%s/caches/%s/%d/keys.json", b.base, b.scope, b.id))
	if errors.Is(err, assetcache.ErrNotFound) {
		return assetcache.StaticKeys{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	var entries []keyEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	keys := make(assetcache.StaticKeys)
	for _, e := range entries {
		if e.Archive < 0 || e.Archive > 0xff {
			continue
		}
		major := uint8(e.Archive)
		if keys[major] == nil {
			keys[major] = make(map[uint32]compress.Key)
		}
		keys[major][e.Group] = compress.Key{
			uint32(e.Key[0]), uint32(e.Key[1]), uint32(e.Key[2]), uint32(e.Key[3]), //nolint:gosec // keys are published signed
		}
	}
	return keys, nil
}

func (b *Backend) keyCount() int {
	n := 0
	for _, m := range b.keys {
		n += len(m)
	}
	return n
}

// Info returns the catalog entry of the snapshot.
func (b *Backend) Info() Info {
	return b.info
}

// Keys returns the snapshot's XTEA keys.
func (b *Backend) Keys() assetcache.StaticKeys {
	return b.keys
}

// Kind returns assetcache.KindHistoric.
func (b *Backend) Kind() assetcache.Kind {
	return assetcache.KindHistoric
}

// GetFile returns one decompressed group. With a non-zero crc the raw
// bytes are verified and kept in the raw store.
func (b *Backend) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	raw, err := b.raw(ctx, major, minor, crc)
	if err != nil {
		return nil, err
	}
	return assetcache.DecodeGroup(raw, major, minor, b.keys.Lookup)
}

func (b *Backend) raw(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	cacheable := b.store != nil && crc != 0
	if cacheable {
		raw, ok, err := b.store.Load(ctx, major, minor, crc)
		if err != nil {
			b.logger.Warn("raw store load failed", "major", major, "minor", minor, "error", err)
		} else if ok {
			return raw, nil
		}
	}

	url := fmt.Sprintf("%s/caches/%s/%d/archives/%d/groups/%d.dat", b.base, b.scope, b.id, major, minor)
	raw, err := b.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("group %d/%d: %w", major, minor, err)
	}
	if crc != 0 {
		if err := checksum.Verify(raw, crc); err != nil {
			return nil, fmt.Errorf("group %d/%d: %w", major, minor, err)
		}
	}
	if cacheable {
		if err := b.store.Store(ctx, major, minor, crc, raw); err != nil {
			b.logger.Warn("raw store save failed", "major", major, "minor", minor, "error", err)
		}
	}
	return raw, nil
}

// get fetches url. A 404 is reported as assetcache.ErrNotFound.
func (b *Backend) get(ctx context.Context, url string) ([]byte, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case nethttp.StatusOK:
	case nethttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", assetcache.ErrNotFound, url)
	default:
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return sizing.ReadAllWithLimit(resp.Body, maxResponseSize, errResponseTooLarge)
}

// Close closes the raw store, if any.
func (b *Backend) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

var _ assetcache.Backend = (*Backend)(nil)
