package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache"
)

func testConfig(t *testing.T, source string) config {
	t.Helper()
	return config{
		mode:            "getbyid",
		source:          source,
		groups:          4,
		filesPerGroup:   3,
		fileSize:        64,
		compression:     "gzip",
		pattern:         "compressible",
		rawStore:        "sqlite",
		iterations:      5,
		cacheBytes:      1 << 20,
		prefetchWorkers: 2,
		randomSeed:      1,
	}
}

func TestProfileSources(t *testing.T) {
	t.Parallel()

	for _, source := range []string{"flatfile", "localdb", "historic"} {
		t.Run(source, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, source)
			dir := t.TempDir()
			flatDir := dir + "/flat"
			ds, err := makeDataset(flatDir, cfg)
			require.NoError(t, err)
			assert.Len(t, ds.fileIDs, 12)
			assert.Len(t, ds.groups, 4)

			ctx := context.Background()
			b, cleanup, err := openBackend(ctx, cfg, dir, flatDir)
			require.NoError(t, err)
			if cleanup != nil {
				t.Cleanup(cleanup)
			}
			r, err := assetcache.NewReader(b)
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })

			got, err := r.GetFileByID(ctx, profileMajor, ds.fileIDs[4])
			require.NoError(t, err)
			require.Len(t, got, cfg.fileSize)
			assert.Equal(t, byte(4), got[0])
			assert.Equal(t, byte('a'+4), got[1])

			for _, mode := range []string{"getbyid", "cached-getbyid-hit", "getfile", "index", "prefetch", "sync"} {
				cfg.mode = mode
				stats, err := runProfile(ctx, cfg, r, ds, dir)
				require.NoError(t, err, mode)
				assert.Equal(t, 5, stats.ops, mode)
			}
		})
	}
}

func TestParseBytesPerSecond(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
	}{
		{"100", 100},
		{"512k", 512 << 10},
		{"10MBps", 10 << 20},
		{"2g/s", 2 << 30},
	}
	for _, tt := range tests {
		got, err := parseBytesPerSecond(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "fast", "-1k", "0"} {
		_, err := parseBytesPerSecond(bad)
		assert.Error(t, err, bad)
	}
}
