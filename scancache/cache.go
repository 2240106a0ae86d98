// Package scancache holds the process-wide scan results: for every
// normalized file path the stat fingerprint and minimal tag set the
// generator consumes. The cache is memory-bounded with LRU eviction and
// persists to a compressed snapshot between runs.
package scancache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tagforge/tcdb/core"
)

// MinCeiling is the smallest permitted memory ceiling. Configuring
// below it is a configuration error, not a request for a tiny cache.
const MinCeiling = 100 * 1024 * 1024

// perEntryOverhead approximates the bookkeeping cost of one entry on
// top of its serialized payload: map bucket, list element, headers.
const perEntryOverhead = 256

// trimTarget is the fill ratio eviction drains to once the ceiling is
// crossed, so a single oversized Set does not thrash the tail.
const trimTarget = 0.8

// Record is the cached scan result for one file.
type Record struct {
	Size  int64
	MTime time.Time
	Tags  core.TagSet
}

type cacheEntry struct {
	key  string
	rec  Record
	cost int64
}

// Cache is a memory-bounded LRU mapping from lower-cased absolute path
// to scan record. One instance is shared across all in-process catalog
// builds; callers that want sharing pass the same instance.
type Cache struct {
	mu      sync.Mutex
	ceiling int64
	used    int64
	lruList *list.List // front = most recently used
	items   map[string]*list.Element
	logger  *slog.Logger
}

// New creates a cache with the given byte ceiling.
func New(ceilingBytes int64, logger *slog.Logger) (*Cache, error) {
	if ceilingBytes < MinCeiling {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", core.ErrCeilingTooLow, ceilingBytes, MinCeiling)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ceiling: ceilingBytes,
		lruList: list.New(),
		items:   make(map[string]*list.Element),
		logger:  logger.With("component", "scancache"),
	}, nil
}

// DefaultCeiling derives a ceiling from available system memory: a
// quarter of what is free, clamped to [MinCeiling, 512 MiB]. Probing
// failures fall back to the minimum.
func DefaultCeiling() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MinCeiling
	}
	c := int64(vm.Available / 4)
	if c < MinCeiling {
		return MinCeiling
	}
	if max := int64(512 * 1024 * 1024); c > max {
		return max
	}
	return c
}

// Key normalizes a path to its cache key.
func Key(path string) string {
	return strings.ToLower(path)
}

// Get retrieves a record and marks it most recently used.
func (c *Cache) Get(path string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[Key(path)]
	if !ok {
		return Record{}, false
	}
	c.lruList.MoveToFront(elem)
	return elem.Value.(*cacheEntry).rec, true
}

// Contains reports presence without touching recency.
func (c *Cache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[Key(path)]
	return ok
}

// Set stores a record, updating an existing entry in place, and trims
// if the running total crossed the ceiling.
func (c *Cache) Set(path string, rec Record) {
	key := Key(path)
	cost := entryCost(key, rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ce := elem.Value.(*cacheEntry)
		c.used += cost - ce.cost
		ce.rec = rec
		ce.cost = cost
		c.lruList.MoveToFront(elem)
	} else {
		elem := c.lruList.PushFront(&cacheEntry{key: key, rec: rec, cost: cost})
		c.items[key] = elem
		c.used += cost
	}
	c.trimLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// UsedBytes returns the estimated memory footprint.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Ceiling returns the configured memory ceiling.
func (c *Cache) Ceiling() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ceiling
}

// SetCeiling reconfigures the ceiling at runtime and trims immediately
// when lowered.
func (c *Cache) SetCeiling(ceilingBytes int64) error {
	if ceilingBytes < MinCeiling {
		return fmt.Errorf("%w: %d bytes (minimum %d)", core.ErrCeilingTooLow, ceilingBytes, MinCeiling)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ceiling = ceilingBytes
	c.trimLocked()
	return nil
}

// Cleanup removes entries whose key is not in keep and returns how many
// were dropped. Run after a generation pass to bound memory without
// discarding entries another build may still reuse.
func (c *Cache) Cleanup(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lruList.Front(); elem != nil; {
		next := elem.Next()
		ce := elem.Value.(*cacheEntry)
		if _, ok := keep[ce.key]; !ok {
			c.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lruList = list.New()
	c.items = make(map[string]*list.Element)
	c.used = 0
}

// SortedKeys returns all cache keys in sorted order. Snapshot writes
// use it for deterministic record order.
func (c *Cache) SortedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// trimLocked evicts from the LRU tail until usage is back under the
// trim target. Must be called with c.mu held.
func (c *Cache) trimLocked() {
	if c.used <= c.ceiling {
		return
	}
	target := int64(float64(c.ceiling) * trimTarget)
	evicted := 0
	for c.used > target {
		elem := c.lruList.Back()
		if elem == nil {
			break
		}
		c.removeLocked(elem)
		evicted++
	}
	if evicted > 0 {
		c.logger.Debug("trimmed scan cache", "evicted", evicted, "used_bytes", c.used, "ceiling", c.ceiling)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	ce := c.lruList.Remove(elem).(*cacheEntry)
	delete(c.items, ce.key)
	c.used -= ce.cost
}

func entryCost(key string, rec Record) int64 {
	return int64(perEntryOverhead + len(key) + rec.Tags.EstimatedSize())
}
