package assetcache

import (
	"context"
	"fmt"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
)

// Backend fetches decompressed group bytes from one storage medium.
//
// crc is the expected CRC-32 of the group's stored bytes as listed in its
// index, or 0 when unknown. Backends that can verify it do; a backend
// returns an error wrapping ErrNotFound when it has no such file.
type Backend interface {
	Kind() Kind
	GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error)
	Close() error
}

// Source is the read interface asset decoders consume.
type Source interface {
	// GetFile returns the decompressed bytes of one group.
	GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error)

	// GetFileArchive returns the members of the group idx describes, in
	// idx.SubIndices order.
	GetFileArchive(ctx context.Context, idx *index.CacheIndex) ([]archive.SubFile, error)

	// GetCacheIndex returns the index of major, indexed by minor. Gaps
	// are nil.
	GetCacheIndex(ctx context.Context, major uint8) ([]*index.CacheIndex, error)

	// GetFileByID returns one logical file by its flat id.
	GetFileByID(ctx context.Context, major uint8, fileID uint32) ([]byte, error)
}

// fileByID resolves a logical file id through src's index and archive
// calls so that any caching src does applies.
func fileByID(ctx context.Context, src Source, major uint8, fileID uint32) ([]byte, error) {
	minor, subID := index.FileIDToArchiveMinor(major, fileID)
	indices, err := src.GetCacheIndex(ctx, major)
	if err != nil {
		return nil, err
	}
	if int64(minor) >= int64(len(indices)) || indices[minor] == nil {
		return nil, fmt.Errorf("%w: file %d of major %d (archive %d)", ErrNotFound, fileID, major, minor)
	}
	files, err := src.GetFileArchive(ctx, indices[minor])
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.FileID == subID {
			return f.Buffer, nil
		}
	}
	return nil, fmt.Errorf("%w: file %d of major %d (archive %d, sub-file %d)", ErrNotFound, fileID, major, minor, subID)
}

// KeyFunc returns the XTEA key of an encrypted group, if it has one.
type KeyFunc func(major uint8, minor uint32) (compress.Key, bool)

// StaticKeys serves keys from a fixed map.
type StaticKeys map[uint8]map[uint32]compress.Key

// Lookup implements KeyFunc.
func (s StaticKeys) Lookup(major uint8, minor uint32) (compress.Key, bool) {
	k, ok := s[major][minor]
	return k, ok
}

// DecodeGroup decompresses the stored bytes of group (major, minor),
// decrypting with the key keys returns for it. keys may be nil.
func DecodeGroup(raw []byte, major uint8, minor uint32, keys KeyFunc) ([]byte, error) {
	var key *compress.Key
	if keys != nil {
		if k, ok := keys(major, minor); ok {
			key = &k
		}
	}
	data, err := compress.Decompress(raw, key)
	if err != nil {
		return nil, fmt.Errorf("group %d/%d: %w", major, minor, err)
	}
	return data, nil
}
