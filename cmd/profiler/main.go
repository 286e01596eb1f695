package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/backend/flatfile"
	"github.com/meigma/assetcache/backend/localdb"
	"github.com/meigma/assetcache/cache"
	"github.com/meigma/assetcache/checksum"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
)

// profileMajor packs 256 files per archive, so -files-per-group is honored
// up to that size.
const profileMajor = index.MajorItems

type config struct {
	mode            string
	source          string
	groups          int
	filesPerGroup   int
	fileSize        int
	compression     string
	pattern         string
	rawStore        string
	httpLatency     time.Duration
	httpBPS         int64
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	cacheBytes      int64
	prefetchWorkers int
	readRandom      bool
	tempDir         string
	keepTemp        bool
	randomSeed      int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkCount int
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()
	ctx := context.Background()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	flatDir := filepath.Join(dir, "flat")
	ds, err := makeDataset(flatDir, cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}

	backend, cleanupBackend, err := openBackend(ctx, cfg, dir, flatDir)
	if err != nil {
		log.Fatal(err)
	}
	if cleanupBackend != nil {
		defer cleanupBackend()
	}
	r, err := assetcache.NewReader(backend)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(ctx, cfg, r, ds, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s source=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		cfg.source,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// dataset describes the generated mirror.
type dataset struct {
	fileIDs []uint32
	groups  []*index.CacheIndex
	bytes   int64
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(ctx context.Context, cfg config, r *assetcache.Reader, ds dataset, rootDir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	switch cfg.mode {
	case "getbyid":
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			id := pickID(ds.fileIDs, ops, rng, cfg.readRandom)
			content, err := r.GetFileByID(ctx, profileMajor, id)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "cached-getbyid-hit":
		cached := assetcache.NewCachedSource(r, cache.WithMaxBytes(cfg.cacheBytes))
		for _, id := range ds.fileIDs {
			content, err := cached.GetFileByID(ctx, profileMajor, id)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
		}

		start = time.Now()
		ops = 0
		byteCount = 0
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			id := pickID(ds.fileIDs, ops, rng, cfg.readRandom)
			content, err := cached.GetFileByID(ctx, profileMajor, id)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}
		s := cached.Stats()
		log.Printf("cache hits=%d misses=%d evictions=%d size=%d", s.Hits, s.Misses, s.Evictions, s.CurrentSize)

	case "getfile":
		for shouldContinue() {
			idx := ds.groups[ops%len(ds.groups)]
			raw, err := r.GetFile(ctx, idx.Major, idx.Minor, idx.CRC)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = raw
			byteCount += int64(len(raw))
			ops++
		}

	case "index":
		for shouldContinue() {
			r.Forget(profileMajor)
			indices, err := r.GetCacheIndex(ctx, profileMajor)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = len(indices)
			ops++
		}

	case "prefetch":
		for shouldContinue() {
			cached := assetcache.NewCachedSource(r, cache.WithMaxBytes(cfg.cacheBytes))
			if err := cached.Prefetch(ctx, profileMajor, cfg.prefetchWorkers); err != nil {
				return profileStats{}, err
			}
			byteCount += cached.Stats().CurrentSize
			ops++
		}

	case "sync":
		for shouldContinue() {
			destDir := filepath.Join(rootDir, "sync", fmt.Sprintf("iter-%d", ops))
			if err := os.MkdirAll(destDir, 0o750); err != nil {
				return profileStats{}, err
			}
			store, err := localdb.Open(destDir)
			if err != nil {
				return profileStats{}, err
			}
			synced, err := store.Sync(ctx, r)
			closeErr := store.Close()
			if err := errors.Join(err, closeErr); err != nil {
				return profileStats{}, err
			}
			if err := os.RemoveAll(destDir); err != nil {
				return profileStats{}, err
			}
			sinkCount = synced.Groups
			byteCount += ds.bytes
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	var httpBPS string
	flag.StringVar(&cfg.mode, "mode", "getbyid", "mode: getbyid, cached-getbyid-hit, getfile, index, prefetch, sync")
	flag.StringVar(&cfg.source, "source", "flatfile", "backend: flatfile, localdb, historic")
	flag.IntVar(&cfg.groups, "groups", 64, "number of archives")
	flag.IntVar(&cfg.filesPerGroup, "files-per-group", 32, "files packed per archive (max 256)")
	flag.IntVar(&cfg.fileSize, "file-size", 4<<10, "file size in bytes")
	flag.StringVar(&cfg.compression, "compression", "gzip", "compression: none, bzip2, gzip, lzma")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.rawStore, "raw-store", "none", "historic raw store: none, sqlite, disk")
	flag.DurationVar(&cfg.httpLatency, "http-latency", 0, "per-request latency for the historic source")
	flag.StringVar(&httpBPS, "http-bps", "", "bytes/sec throttle for the historic source (e.g. 10MBps)")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.Int64Var(&cfg.cacheBytes, "cache-bytes", cache.DefaultMaxBytes, "object cache budget in bytes")
	flag.IntVar(&cfg.prefetchWorkers, "prefetch-workers", assetcache.DefaultPrefetchConcurrency, "prefetch workers")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize file id selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for dataset")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if httpBPS != "" {
		bps, err := parseBytesPerSecond(httpBPS)
		if err != nil {
			log.Fatalf("http-bps: %v", err)
		}
		cfg.httpBPS = bps
	}
	if cfg.groups <= 0 || cfg.filesPerGroup <= 0 {
		log.Fatal("groups and files-per-group must be positive")
	}
	return cfg
}

func pickID(ids []uint32, idx int, rng *rand.Rand, random bool) uint32 {
	if random {
		return ids[rng.Intn(len(ids))]
	}
	return ids[idx%len(ids)]
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "assetcache-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// makeDataset writes a flat-file mirror of profileMajor: cfg.groups
// archives, their index, and a root index.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeDataset(dir string, cfg config) (dataset, error) {
	tag, err := parseCompression(cfg.compression)
	if err != nil {
		return dataset{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // 0o755 is intentional for profiler
		return dataset{}, err
	}
	flat, err := flatfile.New(dir)
	if err != nil {
		return dataset{}, err
	}

	perGroup := min(cfg.filesPerGroup, int(index.ArchiveSize(profileMajor)))
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	var ds dataset
	for g := range cfg.groups {
		minor := uint32(g) //nolint:gosec // flag values are small
		files := make([][]byte, perGroup)
		subs := make([]uint32, perGroup)
		for i := range files {
			files[i], err = makeContent(rng, cfg, g*perGroup+i)
			if err != nil {
				return dataset{}, err
			}
			subs[i] = uint32(i) //nolint:gosec // bounded by the archive size
			id, err := index.ArchiveToFileID(profileMajor, minor, subs[i])
			if err != nil {
				return dataset{}, err
			}
			ds.fileIDs = append(ds.fileIDs, id)
			ds.bytes += int64(len(files[i]))
		}

		packed, err := archive.EncodingNetwork.Pack(files)
		if err != nil {
			return dataset{}, err
		}
		raw, err := compress.Compress(tag, packed, nil)
		if err != nil {
			return dataset{}, err
		}
		if err := flat.WriteFile(profileMajor, minor, raw); err != nil {
			return dataset{}, err
		}
		ds.groups = append(ds.groups, &index.CacheIndex{
			Major:            profileMajor,
			Minor:            minor,
			CRC:              checksum.CRC32(raw),
			Version:          1,
			SubIndexCount:    uint32(perGroup), //nolint:gosec // bounded by the archive size
			SubIndices:       subs,
			Size:             uint32(len(raw)),    //nolint:gosec // profiler archives are small
			UncompressedSize: uint32(len(packed)), //nolint:gosec // profiler archives are small
		})
	}

	indexRaw, err := compress.Compress(tag, index.EncodeIndex(ds.groups), nil)
	if err != nil {
		return dataset{}, err
	}
	if err := flat.WriteFile(index.MajorIndex, uint32(profileMajor), indexRaw); err != nil {
		return dataset{}, err
	}

	root := make([]*index.CacheIndex, int(profileMajor)+1)
	root[profileMajor] = &index.CacheIndex{
		Major:         index.MajorIndex,
		Minor:         uint32(profileMajor),
		CRC:           checksum.CRC32(indexRaw),
		Version:       1,
		SubIndexCount: uint32(len(ds.groups)), //nolint:gosec // flag values are small
	}
	rootBuf, err := index.EncodeRootIndex(root)
	if err != nil {
		return dataset{}, err
	}
	rootRaw, err := compress.Compress(compress.TagNone, rootBuf, nil)
	if err != nil {
		return dataset{}, err
	}
	if err := flat.WriteFile(index.MajorIndex, uint32(index.MajorIndex), rootRaw); err != nil {
		return dataset{}, err
	}
	return ds, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeContent(rng *rand.Rand, cfg config, i int) ([]byte, error) {
	content := make([]byte, cfg.fileSize)
	switch cfg.pattern {
	case "random":
		if _, err := rng.Read(content); err != nil {
			return nil, err
		}
	default:
		fillByte := byte('a' + (i % 26))
		for j := range content {
			content[j] = fillByte
		}
		if len(content) > 0 {
			content[0] = byte(i)
		}
	}
	return content, nil
}

func parseCompression(name string) (compress.Tag, error) {
	switch name {
	case "none":
		return compress.TagNone, nil
	case "bzip2":
		return compress.TagBzip2, nil
	case "gzip":
		return compress.TagGzip, nil
	case "lzma":
		return compress.TagLZMA, nil
	default:
		return 0, fmt.Errorf("unknown compression: %s", name)
	}
}

// openBackend opens the backend named by cfg.source over the generated
// mirror in flatDir.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openBackend(ctx context.Context, cfg config, rootDir, flatDir string) (assetcache.Backend, func(), error) {
	switch cfg.source {
	case "flatfile":
		b, err := flatfile.New(flatDir)
		return b, nil, err

	case "localdb":
		flat, err := flatfile.New(flatDir)
		if err != nil {
			return nil, nil, err
		}
		src, err := assetcache.NewReader(flat)
		if err != nil {
			return nil, nil, err
		}
		dbDir := filepath.Join(rootDir, "localdb")
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, nil, err
		}
		store, err := localdb.Open(dbDir)
		if err != nil {
			return nil, nil, err
		}
		if _, err := store.Sync(ctx, src); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, nil, nil

	case "historic":
		return openHistoric(ctx, cfg, rootDir, flatDir)

	default:
		return nil, nil, fmt.Errorf("unknown source: %s", cfg.source)
	}
}
