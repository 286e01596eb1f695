// Package cache memoizes decoded objects behind a size-bounded,
// usage-scored map.
//
// Entries are created on first miss and shared by every concurrent caller
// for the same key; at most one create runs per key at a time. Every
// SweepInterval insertions the cache scores each entry by recency and use
// count, keeps the best-scoring entries whose sizes fit MaxBytes, and drops
// the rest. Survivors have their use counts reset so popularity decays.
// This approximates a blend of LRU and LFU; it is not exact LRU.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

const (
	// DefaultMaxBytes is the default size budget.
	DefaultMaxBytes int64 = 200 << 20

	// DefaultSweepInterval is the default number of insertions between sweeps.
	DefaultSweepInterval = 100
)

// Stats reports cache activity.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Entries     int
	CurrentSize int64
	MaxSize     int64
}

// Cache is a usage-scored object cache. It is safe for concurrent use.
type Cache[K comparable, T any] struct {
	mu            sync.Mutex
	buckets       map[K]*bucket[K, T]
	tracked       []*bucket[K, T]
	counter       int64
	inserts       int
	maxBytes      int64
	sweepInterval int
	stats         Stats
	logger        *slog.Logger
}

// bucket is one cached object. done is closed once value or err is set.
type bucket[K comparable, T any] struct {
	key      K
	size     int64
	lastUse  int64
	useCount int64
	done     chan struct{}
	value    T
	err      error
	resolved bool
	// sweep is set on every SweepInterval-th insertion; the sweep runs once
	// the bucket's size is known.
	sweep bool
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxBytes      int64
	sweepInterval int
	logger        *slog.Logger
}

// WithMaxBytes sets the size budget. Values <= 0 keep the default.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithSweepInterval sets how many insertions happen between sweeps.
// Values <= 0 keep the default.
func WithSweepInterval(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepInterval = n
		}
	}
}

// WithLogger sets the logger for cache events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates an empty cache.
func New[K comparable, T any](opts ...Option) *Cache[K, T] {
	o := options{
		maxBytes:      DefaultMaxBytes,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Cache[K, T]{
		buckets:       make(map[K]*bucket[K, T]),
		maxBytes:      o.maxBytes,
		sweepInterval: o.sweepInterval,
		logger:        o.logger,
		stats:         Stats{MaxSize: o.maxBytes},
	}
}

// Fetch returns the cached object for key, creating it on a miss.
//
// create runs at most once per key while its result is pending or cached;
// concurrent callers wait for the same result. create runs detached from
// ctx cancellation so an abandoning caller does not fail the others; ctx
// only bounds how long this caller waits. sizeOf measures a created value
// for the size budget. Failed creates are not cached.
func (c *Cache[K, T]) Fetch(ctx context.Context, key K, create func(context.Context) (T, error), sizeOf func(T) int64) (T, error) {
	c.mu.Lock()
	c.counter++
	b, ok := c.buckets[key]
	if ok {
		b.useCount++
		b.lastUse = c.counter
		c.stats.Hits++
	} else {
		b = &bucket[K, T]{
			key:      key,
			lastUse:  c.counter,
			useCount: 1,
			done:     make(chan struct{}),
		}
		c.buckets[key] = b
		c.tracked = append(c.tracked, b)
		c.stats.Misses++
		c.inserts++
		b.sweep = c.inserts%c.sweepInterval == 0
	}
	c.mu.Unlock()

	if !ok {
		go c.resolve(context.WithoutCancel(ctx), b, create, sizeOf)
	}

	select {
	case <-b.done:
		return b.value, b.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Cache[K, T]) resolve(ctx context.Context, b *bucket[K, T], create func(context.Context) (T, error), sizeOf func(T) int64) {
	value, err := create(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	b.value, b.err = value, err
	b.resolved = true
	if err != nil {
		if c.buckets[b.key] == b {
			delete(c.buckets, b.key)
		}
		c.logger.Debug("cache create failed", "error", err)
	} else if sizeOf != nil {
		b.size = sizeOf(value)
	}
	if b.sweep {
		c.sweepLocked()
	}
	close(b.done)
}

// score ranks a bucket; lower is more valuable.
func (c *Cache[K, T]) score(b *bucket[K, T]) int64 {
	return min(100, c.counter-b.lastUse) + max(-100, -b.useCount*10)
}

// sweepLocked evicts resolved entries past the size budget. Pending
// entries are never evicted so their create stays the only one in flight.
func (c *Cache[K, T]) sweepLocked() {
	live := c.tracked[:0]
	var pending []*bucket[K, T]
	for _, b := range c.tracked {
		switch {
		case c.buckets[b.key] != b:
		case !b.resolved:
			pending = append(pending, b)
		default:
			live = append(live, b)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return c.score(live[i]) < c.score(live[j])
	})

	cut := len(live)
	var total int64
	for i, b := range live {
		total += b.size
		if total > c.maxBytes {
			cut = i
			break
		}
	}
	for _, b := range live[cut:] {
		delete(c.buckets, b.key)
	}
	evicted := len(live) - cut
	c.stats.Evictions += int64(evicted)

	kept := live[:cut]
	for _, b := range kept {
		b.useCount = 0
	}
	tracked := append(kept, pending...)
	clear(c.tracked[len(tracked):])
	c.tracked = tracked
	if evicted > 0 {
		c.logger.Debug("cache sweep", "evicted", evicted, "kept", len(kept), "pending", len(pending))
	}
}

// Contains reports whether key has a pending or resolved entry.
func (c *Cache[K, T]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.buckets[key]
	return ok
}

// Delete drops key from the cache. Callers waiting on it still receive
// the pending result.
func (c *Cache[K, T]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, key)
}

// Stats returns a snapshot of cache counters.
func (c *Cache[K, T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.buckets)
	for _, b := range c.buckets {
		s.CurrentSize += b.size
	}
	return s
}
