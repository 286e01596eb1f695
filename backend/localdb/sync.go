package localdb

import (
	"context"
	"fmt"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/index"
)

// SyncStats reports the work a Sync did.
type SyncStats struct {
	Majors int
	Groups int
}

// Sync brings the mirror up to date with src. Majors whose index differs
// from src's root index are copied: the index is stored, then every group
// whose stored CRC differs from the index. Archives are repacked in the
// local layout.
func (s *Store) Sync(ctx context.Context, src assetcache.Source) (SyncStats, error) {
	var stats SyncStats
	root, err := src.GetCacheIndex(ctx, index.MajorIndex)
	if err != nil {
		return stats, err
	}
	changed, err := s.Changed(ctx, root)
	if err != nil {
		return stats, err
	}
	for _, major := range changed {
		n, err := s.syncMajor(ctx, src, root[major])
		if err != nil {
			return stats, fmt.Errorf("sync major %d: %w", major, err)
		}
		stats.Majors++
		stats.Groups += n
		s.logger.Info("major synced", "major", major, "groups", n)
	}
	return stats, nil
}

func (s *Store) syncMajor(ctx context.Context, src assetcache.Source, rootEntry *index.CacheIndex) (int, error) {
	major := uint8(rootEntry.Minor) //nolint:gosec // root entries are indexed by major
	indices, err := src.GetCacheIndex(ctx, major)
	if err != nil {
		return 0, err
	}

	var written int
	for _, idx := range indices {
		if idx == nil {
			continue
		}
		stored, ok, err := s.readStoredCRC(ctx, major, idx.Minor)
		if err != nil {
			return written, err
		}
		if ok && stored == idx.CRC {
			continue
		}
		files, err := src.GetFileArchive(ctx, idx)
		if err != nil {
			return written, err
		}
		buffers := make([][]byte, len(files))
		for i, f := range files {
			buffers[i] = f.Buffer
		}
		packed, err := archive.PackLocal(buffers)
		if err != nil {
			return written, err
		}
		if err := s.PutFile(ctx, major, idx.Minor, idx.Version, idx.CRC, packed); err != nil {
			return written, err
		}
		written++
	}

	// The index goes last so an interrupted sync is retried.
	raw, err := src.GetFile(ctx, index.MajorIndex, uint32(major), rootEntry.CRC)
	if err != nil {
		return written, err
	}
	if err := s.PutIndex(ctx, major, rootEntry.Version, rootEntry.CRC, raw); err != nil {
		return written, err
	}
	return written, nil
}

// readStoredCRC returns the CRC stored for a group, creating the major's
// database if it does not exist yet.
func (s *Store) readStoredCRC(ctx context.Context, major uint8, minor uint32) (uint32, bool, error) {
	if _, err := s.pool(major, true); err != nil {
		return 0, false, err
	}
	r, ok, err := s.readRow(ctx, major, tableFiles, minor, false)
	return r.crc, ok, err
}
