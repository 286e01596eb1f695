package assetcache

import (
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/cache"
	"github.com/meigma/assetcache/index"
)

// --- Re-exports from the codec packages ---

// CacheIndex describes one archive group.
type CacheIndex = index.CacheIndex

// SubFile is one member of an unpacked archive.
type SubFile = archive.SubFile

// CacheStats reports ObjectCache activity.
type CacheStats = cache.Stats
