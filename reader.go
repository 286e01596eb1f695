package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/index"
)

// Reader decodes indices and archives from a Backend. It memoizes decoded
// indices for its lifetime and is safe for concurrent use.
type Reader struct {
	backend  Backend
	encoding archive.Encoding
	indexCRC bool
	logger   *slog.Logger

	indexGroup singleflight.Group // zero value is valid
	mu         sync.Mutex
	indices    map[uint8][]*index.CacheIndex
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLogger sets the logger for index and archive events.
func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a Reader over backend. It fails for a backend whose
// Kind is not recognized.
func NewReader(backend Backend, opts ...ReaderOption) (*Reader, error) {
	kind := backend.Kind()
	encoding, err := kind.ArchiveEncoding()
	if err != nil {
		return nil, err
	}
	indexCRC, err := kind.VerifiesIndexCRC()
	if err != nil {
		return nil, err
	}
	r := &Reader{
		backend:  backend,
		encoding: encoding,
		indexCRC: indexCRC,
		indices:  make(map[uint8][]*index.CacheIndex),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

// Backend returns the backend the reader decodes from.
func (r *Reader) Backend() Backend {
	return r.backend
}

// GetFile returns the decompressed bytes of one group.
func (r *Reader) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	return r.backend.GetFile(ctx, major, minor, crc)
}

// GetFileArchive fetches the group idx describes and unpacks it.
func (r *Reader) GetFileArchive(ctx context.Context, idx *index.CacheIndex) ([]archive.SubFile, error) {
	data, err := r.backend.GetFile(ctx, idx.Major, idx.Minor, idx.CRC)
	if err != nil {
		return nil, err
	}
	files, err := r.encoding.Unpack(data, idx.SubIndices)
	if err != nil {
		return nil, fmt.Errorf("archive %d/%d: %w", idx.Major, idx.Minor, err)
	}
	return files, nil
}

// GetCacheIndex returns the decoded index of major. Major 255 returns the
// root index. Concurrent first calls for the same major share one fetch;
// failures are not memoized.
func (r *Reader) GetCacheIndex(ctx context.Context, major uint8) ([]*index.CacheIndex, error) {
	r.mu.Lock()
	indices, ok := r.indices[major]
	r.mu.Unlock()
	if ok {
		return indices, nil
	}

	result, err, _ := r.indexGroup.Do(strconv.Itoa(int(major)), func() (any, error) {
		r.mu.Lock()
		indices, ok := r.indices[major]
		r.mu.Unlock()
		if ok {
			return indices, nil
		}

		// Detached so one abandoning caller does not fail the others.
		indices, err := r.loadIndex(context.WithoutCancel(ctx), major)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.indices[major] = indices
		r.mu.Unlock()
		r.logger.Debug("index loaded", "major", major, "entries", len(indices))
		return indices, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*index.CacheIndex), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (r *Reader) loadIndex(ctx context.Context, major uint8) ([]*index.CacheIndex, error) {
	if major == index.MajorIndex {
		data, err := r.backend.GetFile(ctx, index.MajorIndex, uint32(index.MajorIndex), 0)
		if err != nil {
			return nil, fmt.Errorf("root index: %w", err)
		}
		return index.DecodeRootIndex(data)
	}

	var crc uint32
	if r.indexCRC {
		root, err := r.GetCacheIndex(ctx, index.MajorIndex)
		if err != nil {
			return nil, err
		}
		if int(major) >= len(root) || root[major] == nil {
			return nil, fmt.Errorf("%w: major %d is not in the root index", ErrNotFound, major)
		}
		crc = root[major].CRC
	}

	data, err := r.backend.GetFile(ctx, index.MajorIndex, uint32(major), crc)
	if err != nil {
		return nil, fmt.Errorf("index %d: %w", major, err)
	}
	return index.DecodeIndex(major, data)
}

// Forget drops the memoized index of major so the next call refetches it.
func (r *Reader) Forget(major uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indices, major)
}

// GetFileByID returns one logical file by its flat id.
func (r *Reader) GetFileByID(ctx context.Context, major uint8, fileID uint32) ([]byte, error) {
	return fileByID(ctx, r, major, fileID)
}

// Close closes the backend.
func (r *Reader) Close() error {
	return r.backend.Close()
}

var _ Source = (*Reader)(nil)
