// Package assetcache reads game asset caches through interchangeable
// storage backends.
//
// Cache files are addressed by (major, minor): the major selects an asset
// category with its own index, the minor selects one archive group in it.
// Each group is stored compressed and may pack many logical sub-files.
// Major 255 holds the index of every other major, and (255, 255) is the
// root index listing every major's index checksum.
//
// A [Backend] returns decompressed group bytes from one storage medium:
// the live content server, a local SQLite mirror, a historical snapshot
// archive, a directory of raw files, or a caller-supplied function. A
// [Reader] layers index decoding and archive unpacking on top of a backend
// and implements [Source], the interface asset decoders consume.
// [CachedSource] memoizes decoded archives in a size-bounded cache.
//
// # Quick Start
//
//	client, err := download.New("content.example.net:43594", download.Build{Major: 946, Minor: 1},
//	    download.WithKey(sessionKey),
//	)
//	if err != nil {
//	    return err
//	}
//	backend := live.New(client)
//	reader, err := assetcache.NewReader(backend)
//	if err != nil {
//	    return err
//	}
//	src := assetcache.NewCachedSource(reader)
//	item, err := src.GetFileByID(ctx, index.MajorItems, 4151)
//
// Subpackages hold the codecs: [index] for index tables, [archive] for
// multi-file groups, [compress] for the compression container and XTEA,
// and [checksum] for CRC-32 verification and forging.
package assetcache
