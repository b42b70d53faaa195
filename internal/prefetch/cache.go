// Package prefetch warms upcoming recitation segments into a byte-bounded
// in-memory cache so that advancing to the next verse starts without a
// network round trip.
package prefetch

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/tilawa/recite/internal/metrics"
)

const (
	// DefaultMaxBytes bounds the total payload held in memory.
	DefaultMaxBytes = 50 << 20

	// DefaultLowWaterRatio is the fraction of MaxBytes eviction drains to.
	DefaultLowWaterRatio = 0.8

	// DefaultFetchTimeout bounds a single segment fetch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultRangeBytes is how much of each segment is fetched ahead.
	DefaultRangeBytes = 512 << 10
)

// Options configures a Cache.
type Options struct {
	MaxBytes      int64
	LowWaterRatio float64
	FetchTimeout  time.Duration
	RangeBytes    int64

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the default cache options.
func DefaultOptions() Options {
	return Options{
		MaxBytes:      DefaultMaxBytes,
		LowWaterRatio: DefaultLowWaterRatio,
		FetchTimeout:  DefaultFetchTimeout,
		RangeBytes:    DefaultRangeBytes,
	}
}

func (o *Options) setDefaults() {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.LowWaterRatio <= 0 || o.LowWaterRatio > 1 {
		o.LowWaterRatio = DefaultLowWaterRatio
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.RangeBytes < 0 {
		o.RangeBytes = DefaultRangeBytes
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Stats is a snapshot of the cache.
type Stats struct {
	Count      int       `json:"count"`
	TotalBytes int64     `json:"total_bytes"`
	MaxBytes   int64     `json:"max_bytes"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Evictions  int64     `json:"evictions"`
	Failures   int64     `json:"failures"`
	LastEvict  time.Time `json:"last_evict"`
}

// HitRate returns hits over all prefetch requests.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	url     string
	handle  *Handle
	size    int64
	touched time.Time
}

// Cache holds prefetched segment payloads keyed by URL. Entries are kept in
// touch order; when the total exceeds MaxBytes the least recently touched
// entries are evicted until the total is at or below the low-water mark.
// Failed fetches are never cached.
type Cache struct {
	opts    Options
	fetcher Fetcher
	log     *log.Logger

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List // front is most recently touched
	size     int64
	stats    Stats
	closed   bool

	group  singleflight.Group
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache that fills itself through fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	opts.setDefaults()
	base, cancel := context.WithCancel(context.Background())

	return &Cache{
		opts:     opts,
		fetcher:  fetcher,
		log:      opts.Logger.WithPrefix("prefetch"),
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    Stats{MaxBytes: opts.MaxBytes},
		base:     base,
		cancel:   cancel,
	}
}

// Prefetch returns a handle for url, fetching its leading bytes if they
// are not cached yet. Concurrent calls for the same URL share one fetch.
// Any failure yields nil and leaves nothing cached. ctx only bounds how
// long this caller waits; the shared fetch is bounded by FetchTimeout and
// aborted by Close.
func (c *Cache) Prefetch(ctx context.Context, url string) *Handle {
	if url == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if elem, ok := c.items[url]; ok {
		e := c.touch(elem)
		c.stats.Hits++
		c.mu.Unlock()
		c.opts.Metrics.CacheHit()
		return e.handle
	}
	c.stats.Misses++
	c.mu.Unlock()
	c.opts.Metrics.CacheMiss()

	ch := c.group.DoChan(url, func() (any, error) {
		return c.fetch(url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil
		}
		h := res.Val.(*Handle)
		if h.Released() {
			return nil
		}
		return h
	case <-ctx.Done():
		return nil
	}
}

// PrefetchAsync warms url in the background.
func (c *Cache) PrefetchAsync(url string) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if closed {
		return
	}

	go func() {
		defer c.wg.Done()
		c.Prefetch(c.base, url)
	}()
}

// fetch runs at most once per URL at a time.
func (c *Cache) fetch(url string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(c.base, c.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	p, err := c.fetcher.Fetch(ctx, url, c.opts.RangeBytes)
	if err == nil && int64(len(p.Data)) > c.lowWater() {
		err = ErrTooLarge
	}
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.opts.Metrics.FetchFailed()
		c.log.Debug("prefetch failed", "url", url, "err", err)
		return nil, err
	}
	c.opts.Metrics.FetchSucceeded(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if elem, ok := c.items[url]; ok {
		return c.touch(elem).handle, nil
	}

	h := newHandle(url, p)
	e := &entry{
		url:     url,
		handle:  h,
		size:    int64(h.Size()),
		touched: time.Now(),
	}
	c.items[url] = c.eviction.PushFront(e)
	c.size += e.size

	evicted := c.evict()
	c.opts.Metrics.CacheEvicted(evicted)
	c.opts.Metrics.CacheSize(len(c.items), c.size)
	c.log.Debug("prefetched", "url", url, "bytes", e.size, "complete", h.Complete(), "evicted", evicted)

	return h, nil
}

// GetCached returns the handle for url without fetching and without
// refreshing its recency.
func (c *Cache) GetCached(url string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[url]; ok {
		return elem.Value.(*entry).handle
	}
	return nil
}

// Contains reports whether url is cached.
func (c *Cache) Contains(url string) bool {
	return c.GetCached(url) != nil
}

// Clear releases every handle and empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, elem := range c.items {
		elem.Value.(*entry).handle.release()
	}
	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	c.opts.Metrics.CacheSize(0, 0)
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Count = len(c.items)
	s.TotalBytes = c.size
	return s
}

// Close aborts in-flight fetches, waits for background prefetches and
// clears the cache. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.Clear()
}

// touch marks the entry as most recently used (must be called with lock held).
func (c *Cache) touch(elem *list.Element) *entry {
	c.eviction.MoveToFront(elem)
	e := elem.Value.(*entry)
	e.touched = time.Now()
	return e
}

// lowWater is the total an eviction pass drains to. No single payload may
// exceed it, so a pass can always reach it without dropping the entry
// being inserted.
func (c *Cache) lowWater() int64 {
	return int64(float64(c.opts.MaxBytes) * c.opts.LowWaterRatio)
}

// evict drops least recently touched entries once the cache is over
// budget, down to the low-water mark. The most recent entry is never
// evicted by its own insertion (must be called with lock held).
func (c *Cache) evict() int {
	if c.size <= c.opts.MaxBytes {
		return 0
	}

	target := c.lowWater()
	n := 0
	for c.size > target && c.eviction.Len() > 1 {
		c.removeElement(c.eviction.Back())
		n++
	}

	c.stats.Evictions += int64(n)
	c.stats.LastEvict = time.Now()
	return n
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *Cache) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	c.eviction.Remove(elem)
	delete(c.items, e.url)
	c.size -= e.size
	e.handle.release()
}
