package main

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/backend/historic"
	"github.com/meigma/assetcache/cache/disk"
)

const profileSnapshotID = 1

// openHistoric serves flatDir in the snapshot archive layout and opens a
// historic backend against it.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openHistoric(ctx context.Context, cfg config, rootDir, flatDir string) (assetcache.Backend, func(), error) {
	server := httptest.NewServer(snapshotHandler(flatDir))

	opts := []historic.Option{
		historic.WithBaseURL(server.URL),
		historic.WithHTTPClient(newHTTPClient(cfg)),
	}
	store, err := newRawStore(cfg, rootDir)
	if err != nil {
		server.Close()
		return nil, nil, err
	}
	if store != nil {
		opts = append(opts, historic.WithRawStore(store))
	}

	b, err := historic.Open(ctx, profileSnapshotID, opts...)
	if err != nil {
		server.Close()
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, err
	}
	return b, server.Close, nil
}

func snapshotHandler(flatDir string) nethttp.Handler {
	catalog := fmt.Sprintf(`[{"id": %d, "scope": %q, "game": "profiler", "builds": []}]`,
		profileSnapshotID, historic.DefaultScope)

	mux := nethttp.NewServeMux()
	mux.HandleFunc("GET /caches.json", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, catalog)
	})
	mux.HandleFunc("GET /caches/{scope}/{id}/archives/{major}/groups/{file}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		major, err := strconv.ParseUint(r.PathValue("major"), 10, 8)
		if err != nil {
			nethttp.NotFound(w, r)
			return
		}
		minor, err := strconv.ParseUint(strings.TrimSuffix(r.PathValue("file"), ".dat"), 10, 32)
		if err != nil {
			nethttp.NotFound(w, r)
			return
		}
		path := filepath.Join(flatDir, strconv.FormatUint(major, 10), strconv.FormatUint(minor, 10)+".dat")
		data, err := os.ReadFile(path) //nolint:gosec // path is built from parsed integers
		if err != nil {
			nethttp.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	return mux
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newRawStore(cfg config, rootDir string) (historic.RawStore, error) {
	switch cfg.rawStore {
	case "none":
		return nil, nil //nolint:nilnil // no store is a valid configuration
	case "sqlite":
		return historic.OpenSQLiteStore(filepath.Join(rootDir, "raw.db"), nil)
	case "disk":
		c, err := disk.New(filepath.Join(rootDir, "raw"))
		if err != nil {
			return nil, err
		}
		return historic.NewDiskStore(c), nil
	default:
		return nil, fmt.Errorf("unknown raw store: %s", cfg.rawStore)
	}
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newHTTPClient(cfg config) *nethttp.Client {
	transport := nethttp.DefaultTransport
	if base, ok := transport.(*nethttp.Transport); ok {
		transport = base.Clone()
	}
	if cfg.httpLatency > 0 || cfg.httpBPS > 0 {
		transport = &httpThrottleRoundTripper{
			base:           transport,
			latency:        cfg.httpLatency,
			bytesPerSecond: cfg.httpBPS,
		}
	}
	return &nethttp.Client{Transport: transport}
}

type httpThrottleRoundTripper struct {
	base           nethttp.RoundTripper
	latency        time.Duration
	bytesPerSecond int64
}

func (rt *httpThrottleRoundTripper) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if rt.latency > 0 {
		time.Sleep(rt.latency)
	}
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if rt.bytesPerSecond > 0 && resp.Body != nil {
		resp.Body = &throttleReadCloser{
			rc:             resp.Body,
			bytesPerSecond: rt.bytesPerSecond,
			start:          time.Now(),
		}
	}
	return resp, nil
}

type throttleReadCloser struct {
	rc             io.ReadCloser
	bytesPerSecond int64
	start          time.Time
	readBytes      int64
}

func (tr *throttleReadCloser) Read(p []byte) (int, error) {
	n, err := tr.rc.Read(p)
	if n > 0 {
		tr.readBytes += int64(n)
		expected := time.Duration(float64(tr.readBytes) / float64(tr.bytesPerSecond) * float64(time.Second))
		if elapsed := time.Since(tr.start); expected > elapsed {
			time.Sleep(expected - elapsed)
		}
	}
	return n, err
}

func (tr *throttleReadCloser) Close() error {
	return tr.rc.Close()
}

// parseBytesPerSecond parses values like "512k", "10MBps" or "1g/s".
func parseBytesPerSecond(value string) (int64, error) {
	text := strings.TrimSpace(value)
	for _, suffix := range []string{"Bps", "bps", "/s"} {
		text = strings.TrimSuffix(text, suffix)
	}
	text = strings.TrimSpace(text)

	multiplier := int64(1)
	lower := strings.ToLower(text)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"kb", 1 << 10}, {"k", 1 << 10},
		{"mb", 1 << 20}, {"m", 1 << 20},
		{"gb", 1 << 30}, {"g", 1 << 30},
	} {
		if strings.HasSuffix(lower, unit.suffix) {
			multiplier = unit.mult
			text = text[:len(text)-len(unit.suffix)]
			break
		}
	}

	raw, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || raw <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return raw * multiplier, nil
}
