// Package cache holds decoded record contents keyed by encoding key.
package cache

import (
	"container/list"
	"expvar"
	"log/slog"
	"sync"

	"github.com/INLOpen/casc/compressors"
	"github.com/INLOpen/casc/core"
)

// cacheEntry holds the key and the compressed content of a cache item.
type cacheEntry struct {
	key   core.Key
	value []byte
	size  int // decoded length, used as the decompression size hint
}

// Options configures a ContentCache.
type Options struct {
	// Capacity is the maximum number of entries. Zero disables the cache.
	Capacity int
	// MaxEntryBytes skips contents larger than this many bytes. Zero means
	// no limit.
	MaxEntryBytes int
	Compressor    core.Compressor
	Logger        *slog.Logger
	OnEvicted     func(key core.Key) // Optional callback on eviction
}

// ContentCache is a fixed-size LRU cache of decoded contents. Values are
// stored compressed and every Get returns a fresh copy.
type ContentCache struct {
	mu            sync.Mutex
	capacity      int
	maxEntryBytes int
	compressor    core.Compressor
	logger        *slog.Logger
	lruList       *list.List
	cacheItems    map[core.Key]*list.Element
	onEvicted     func(key core.Key)

	hits   *expvar.Int
	misses *expvar.Int
}

var _ Interface = (*ContentCache)(nil)

// New creates a ContentCache. A nil compressor stores values uncompressed.
func New(opts Options) *ContentCache {
	c := &ContentCache{
		capacity:      opts.Capacity,
		maxEntryBytes: opts.MaxEntryBytes,
		compressor:    opts.Compressor,
		logger:        opts.Logger,
		lruList:       list.New(),
		cacheItems:    make(map[core.Key]*list.Element),
		onEvicted:     opts.OnEvicted,
	}
	if c.compressor == nil {
		c.compressor = &compressors.NoCompressionCompressor{}
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "content_cache")
	}
	return c
}

func (c *ContentCache) SetMetrics(hits, misses *expvar.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	c.misses = misses
}

// Get returns a copy of the cached content for key.
func (c *ContentCache) Get(key core.Key) ([]byte, bool) {
	c.mu.Lock()
	if c.capacity <= 0 {
		// A disabled cache does not count misses.
		c.mu.Unlock()
		return nil, false
	}
	elem, ok := c.cacheItems[key]
	if !ok {
		if c.misses != nil {
			c.misses.Add(1)
		}
		c.mu.Unlock()
		return nil, false
	}
	if c.hits != nil {
		c.hits.Add(1)
	}
	c.lruList.MoveToFront(elem)
	entry := elem.Value.(*cacheEntry)
	value, size := entry.value, entry.size
	c.mu.Unlock()

	// Stored values are never mutated, so decompression can run unlocked.
	content, err := c.compressor.Decompress(value, size)
	if err != nil {
		c.logger.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		c.remove(key)
		return nil, false
	}
	if c.compressor.Type() == core.CompressionNone {
		content = append([]byte(nil), content...)
	}
	return content, true
}

// Put adds a copy of content to the cache.
func (c *ContentCache) Put(key core.Key, content []byte) {
	if c.capacity <= 0 || (c.maxEntryBytes > 0 && len(content) > c.maxEntryBytes) {
		return
	}
	value, err := c.compressor.Compress(content)
	if err != nil {
		c.logger.Warn("Not caching content", "key", key, "error", err)
		return
	}
	if c.compressor.Type() == core.CompressionNone {
		value = append([]byte(nil), value...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value, entry.size = value, len(content)
		return
	}
	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.cacheItems[key] = c.lruList.PushFront(&cacheEntry{key: key, value: value, size: len(content)})
}

func (c *ContentCache) remove(key core.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.Remove(elem)
		delete(c.cacheItems, key)
	}
}

// Len returns the current number of items in the cache.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used item from the cache.
// Must be called with c.mu locked.
func (c *ContentCache) evict() {
	if elem := c.lruList.Back(); elem != nil {
		removed := c.lruList.Remove(elem).(*cacheEntry)
		delete(c.cacheItems, removed.key)
		if c.onEvicted != nil {
			c.onEvicted(removed.key)
		}
	}
}

// Clear removes all entries from the cache and resets its counters.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for key := range c.cacheItems {
			c.onEvicted(key)
		}
	}
	c.lruList = list.New()
	c.cacheItems = make(map[core.Key]*list.Element)
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// GetHitRate calculates the cache hit rate.
// This is useful for expvar.Func.
func (c *ContentCache) GetHitRate() float64 {
	c.mu.Lock()
	hitsVar, missesVar := c.hits, c.misses
	c.mu.Unlock()

	var hits, misses float64
	if hitsVar != nil {
		hits = float64(hitsVar.Value())
	}
	if missesVar != nil {
		misses = float64(missesVar.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
