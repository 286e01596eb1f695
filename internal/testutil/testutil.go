// Package testutil builds synthetic caches for tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/checksum"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
)

// Key addresses one stored group.
type Key struct {
	Major uint8
	Minor uint32
}

// Member is one sub-file of a fixture group.
type Member struct {
	ID   uint32
	Data []byte
}

// Fixture accumulates groups and produces the raw stored bytes of a
// complete cache: every group, one index per major, and the root index.
type Fixture struct {
	Encoding archive.Encoding
	Tag      compress.Tag

	// Keys holds the XTEA key used to encrypt gzip groups, if any.
	Keys map[Key]compress.Key

	// Raw holds the stored, compressed bytes of every group after Build.
	Raw map[Key][]byte

	// Plain holds the uncompressed bytes of every group.
	Plain map[Key][]byte

	groups map[uint8][]*index.CacheIndex
}

// NewFixture creates an empty fixture that packs archives with enc and
// compresses groups with tag.
func NewFixture(enc archive.Encoding, tag compress.Tag) *Fixture {
	return &Fixture{
		Encoding: enc,
		Tag:      tag,
		Keys:     make(map[Key]compress.Key),
		Raw:      make(map[Key][]byte),
		Plain:    make(map[Key][]byte),
		groups:   make(map[uint8][]*index.CacheIndex),
	}
}

// AddGroup packs members into group (major, minor). Members must be in
// ascending id order.
func (f *Fixture) AddGroup(tb testing.TB, major uint8, minor uint32, members ...Member) *index.CacheIndex {
	tb.Helper()
	files := make([][]byte, len(members))
	ids := make([]uint32, len(members))
	for i, m := range members {
		files[i] = m.Data
		ids[i] = m.ID
	}
	packed, err := f.Encoding.Pack(files)
	if err != nil {
		tb.Fatalf("pack %d/%d: %v", major, minor, err)
	}

	key := Key{Major: major, Minor: minor}
	raw := f.store(tb, key, packed)
	entry := &index.CacheIndex{
		Major:            major,
		Minor:            minor,
		CRC:              checksum.CRC32(raw),
		Version:          1,
		SubIndexCount:    uint32(len(ids)), //nolint:gosec // test sizes are small
		SubIndices:       ids,
		Size:             uint32(len(raw)),    //nolint:gosec // test sizes are small
		UncompressedSize: uint32(len(packed)), //nolint:gosec // test sizes are small
	}
	f.groups[major] = append(f.groups[major], entry)
	return entry
}

// AddEncryptedGroup adds a single-member gzip group encrypted with key.
func (f *Fixture) AddEncryptedGroup(tb testing.TB, major uint8, minor uint32, key compress.Key, data []byte) *index.CacheIndex {
	tb.Helper()
	f.Keys[Key{Major: major, Minor: minor}] = key
	return f.AddGroup(tb, major, minor, Member{ID: 0, Data: data})
}

func (f *Fixture) store(tb testing.TB, key Key, plain []byte) []byte {
	tb.Helper()
	tag := f.Tag
	var xk *compress.Key
	if k, ok := f.Keys[key]; ok {
		tag, xk = compress.TagGzip, &k
	}
	raw, err := compress.Compress(tag, plain, xk)
	if err != nil {
		tb.Fatalf("compress %d/%d: %v", key.Major, key.Minor, err)
	}
	f.Raw[key] = raw
	f.Plain[key] = plain
	return raw
}

// Build encodes an index for every major with groups and the root index.
func (f *Fixture) Build(tb testing.TB) {
	tb.Helper()
	majors := make([]int, 0, len(f.groups))
	for m := range f.groups {
		majors = append(majors, int(m))
	}
	sort.Ints(majors)

	var root []*index.CacheIndex
	if len(majors) > 0 {
		root = make([]*index.CacheIndex, majors[len(majors)-1]+1)
	}
	for _, m := range majors {
		major := uint8(m) //nolint:gosec // keys are uint8
		entries := f.groups[major]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Minor < entries[j].Minor })
		raw := f.store(tb, Key{Major: index.MajorIndex, Minor: uint32(major)}, index.EncodeIndex(entries))
		root[major] = &index.CacheIndex{
			Major:         index.MajorIndex,
			Minor:         uint32(major),
			CRC:           checksum.CRC32(raw),
			Version:       1,
			SubIndexCount: uint32(len(entries)), //nolint:gosec // test sizes are small
		}
	}
	rootBuf, err := index.EncodeRootIndex(root)
	if err != nil {
		tb.Fatalf("encode root: %v", err)
	}
	f.store(tb, Key{Major: index.MajorIndex, Minor: uint32(index.MajorIndex)}, rootBuf)
}

// Index returns the index entries added for major, sorted by minor.
func (f *Fixture) Index(major uint8) []*index.CacheIndex {
	return f.groups[major]
}

// MemoryBackend serves a Fixture from memory.
type MemoryBackend struct {
	kind    assetcache.Kind
	fixture *Fixture

	mu     sync.Mutex
	calls  map[Key]int
	closed bool
}

// NewMemoryBackend serves f as a backend of kind.
func NewMemoryBackend(kind assetcache.Kind, f *Fixture) *MemoryBackend {
	return &MemoryBackend{
		kind:    kind,
		fixture: f,
		calls:   make(map[Key]int),
	}
}

// Kind returns the configured kind.
func (b *MemoryBackend) Kind() assetcache.Kind {
	return b.kind
}

// GetFile decompresses the stored group, verifying crc when non-zero.
func (b *MemoryBackend) GetFile(_ context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	key := Key{Major: major, Minor: minor}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, assetcache.ErrClosed
	}
	b.calls[key]++
	b.mu.Unlock()

	raw, ok := b.fixture.Raw[key]
	if !ok {
		return nil, fmt.Errorf("%w: %d/%d", assetcache.ErrNotFound, major, minor)
	}
	if crc != 0 {
		if err := checksum.Verify(raw, crc); err != nil {
			return nil, err
		}
	}
	var xk *compress.Key
	if k, ok := b.fixture.Keys[key]; ok {
		xk = &k
	}
	return compress.Decompress(raw, xk)
}

// Calls returns how many times (major, minor) was requested.
func (b *MemoryBackend) Calls(major uint8, minor uint32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[Key{Major: major, Minor: minor}]
}

// Close marks the backend closed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
