package assetcache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/cache"
	"github.com/meigma/assetcache/index"
)

// DefaultPrefetchConcurrency bounds parallel archive fetches in Prefetch.
const DefaultPrefetchConcurrency = 8

// CachedSource memoizes decoded archives of an underlying Source in a
// size-bounded [cache.Cache].
//
// Archives of models and textures bypass the cache; see [Cacheable].
type CachedSource struct {
	src   Source
	cache *cache.Cache[uint32, []archive.SubFile]
}

// NewCachedSource wraps src. opts configure the object cache.
func NewCachedSource(src Source, opts ...cache.Option) *CachedSource {
	return &CachedSource{
		src:   src,
		cache: cache.New[uint32, []archive.SubFile](opts...),
	}
}

// ArchiveKey packs (major, minor) into the object cache key. It is unique
// for minors up to [index.MaxMinor].
func ArchiveKey(major uint8, minor uint32) uint32 {
	return uint32(major)<<23 | minor&index.MaxMinor
}

// Cacheable reports whether the archive (major, minor) is memoized.
// Models, textures and minors past [index.MaxMinor] are not.
func Cacheable(major uint8, minor uint32) bool {
	if minor > index.MaxMinor {
		return false
	}
	switch major {
	case index.MajorModels,
		index.MajorTexturesDDS, index.MajorTexturesPNG, index.MajorTexturesBMP, index.MajorTexturesKTX:
		return false
	default:
		return true
	}
}

// GetFile passes through to the underlying source.
func (c *CachedSource) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	return c.src.GetFile(ctx, major, minor, crc)
}

// GetFileArchive returns the cached archive for idx, fetching it on a
// miss. Concurrent misses for the same archive share one fetch.
func (c *CachedSource) GetFileArchive(ctx context.Context, idx *index.CacheIndex) ([]archive.SubFile, error) {
	if !Cacheable(idx.Major, idx.Minor) {
		return c.src.GetFileArchive(ctx, idx)
	}
	return c.cache.Fetch(ctx, ArchiveKey(idx.Major, idx.Minor),
		func(ctx context.Context) ([]archive.SubFile, error) {
			return c.src.GetFileArchive(ctx, idx)
		},
		archiveSize,
	)
}

// GetCacheIndex passes through to the underlying source.
func (c *CachedSource) GetCacheIndex(ctx context.Context, major uint8) ([]*index.CacheIndex, error) {
	return c.src.GetCacheIndex(ctx, major)
}

// GetFileByID resolves a logical file through the archive cache.
func (c *CachedSource) GetFileByID(ctx context.Context, major uint8, fileID uint32) ([]byte, error) {
	return fileByID(ctx, c, major, fileID)
}

// Prefetch loads every archive of major into the cache, running at most
// concurrency fetches at once (DefaultPrefetchConcurrency when <= 0). It
// stops at the first failure.
func (c *CachedSource) Prefetch(ctx context.Context, major uint8, concurrency int) error {
	indices, err := c.src.GetCacheIndex(ctx, major)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, idx := range indices {
		if idx == nil {
			continue
		}
		g.Go(func() error {
			_, err := c.GetFileArchive(gctx, idx)
			return err
		})
	}
	return g.Wait()
}

// Stats returns object cache counters.
func (c *CachedSource) Stats() CacheStats {
	return c.cache.Stats()
}

func archiveSize(files []archive.SubFile) int64 {
	var n int64
	for _, f := range files {
		n += int64(len(f.Buffer))
	}
	return n
}

var _ Source = (*CachedSource)(nil)
