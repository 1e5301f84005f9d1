package analysis

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"msls/internal/shared/observability"
)

// ComputeFunc produces a fresh Result for one (module, fingerprint) pair.
type ComputeFunc func(ctx context.Context) (*Result, error)

type entry struct {
	module string
	result *Result
	stale  bool
	elem   *list.Element
}

// Cache memoizes analysis results per module. At most one computation runs
// per (module, fingerprint) key; concurrent demand for the same key awaits
// the in-flight computation (singleflight). Stale entries stay servable for
// low-latency navigation until a replacement lands. Eviction is LRU beyond
// capacity, skipping pinned modules (open documents).
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	lru      *list.List
	pinned   map[string]bool
	capacity int

	flight singleflight.Group
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 64
	}
	return &Cache{
		entries:  make(map[string]*entry),
		lru:      list.New(),
		pinned:   make(map[string]bool),
		capacity: capacity,
	}
}

// GetOrCompute returns the cached result when the fingerprint matches;
// otherwise it runs compute under a single-flight guard and swaps the new
// result in. Staleness tagging is conservative, so a stale entry whose
// fingerprint still equals the requested one is revalidated in place instead
// of recomputed: equal fingerprints prove the inputs are unchanged. A failed
// or cancelled computation leaves the previous entry untouched.
func (c *Cache) GetOrCompute(ctx context.Context, module string, fp Fingerprint, compute ComputeFunc) (*Result, error) {
	if res, ok := c.lookup(module, fp); ok {
		observability.CacheHitsTotal.Inc()
		return res, nil
	}
	observability.CacheMissesTotal.Inc()

	key := module + "\x00" + string(fp)
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have stored it.
		if res, ok := c.lookup(module, fp); ok {
			return res, nil
		}

		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// lookup serves a fingerprint match, clearing the stale bit when the match
// disproves the invalidation.
func (c *Cache) lookup(module string, fp Fingerprint) (*Result, bool) {
	c.mu.Lock()
	e, ok := c.entries[module]
	if !ok || e.result.Fingerprint != fp {
		c.mu.Unlock()
		return nil, false
	}
	e.stale = false
	res := e.result
	c.lru.MoveToFront(e.elem)
	c.mu.Unlock()
	return res, true
}

// Peek returns the latest entry without computing. stale reports whether the
// entry has been invalidated; callers needing guaranteed freshness should
// fall back to GetOrCompute.
func (c *Cache) Peek(module string) (res *Result, stale bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[module]
	if !ok {
		return nil, false, false
	}
	return e.result, e.stale, true
}

// MarkStale tags entries as outdated without evicting them.
func (c *Cache) MarkStale(modules []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range modules {
		if e, ok := c.entries[m]; ok {
			e.stale = true
		}
	}
}

// Pin protects a module's newest result from eviction while its document is
// open.
func (c *Cache) Pin(module string) {
	c.mu.Lock()
	c.pinned[module] = true
	c.mu.Unlock()
}

func (c *Cache) Unpin(module string) {
	c.mu.Lock()
	delete(c.pinned, module)
	c.mu.Unlock()
}

// Evict drops a module's entry outright, used when a module disappears.
func (c *Cache) Evict(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[module]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, module)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) store(res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[res.Module]; ok {
		e.result = res
		e.stale = false
		c.lru.MoveToFront(e.elem)
	} else {
		e := &entry{module: res.Module, result: res}
		e.elem = c.lru.PushFront(e)
		c.entries[res.Module] = e
	}
	c.evictOverCapacityLocked()
	observability.CacheEntries.Set(float64(len(c.entries)))
}

func (c *Cache) evictOverCapacityLocked() {
	for len(c.entries) > c.capacity {
		evicted := false
		for el := c.lru.Back(); el != nil; el = el.Prev() {
			e := el.Value.(*entry)
			if c.pinned[e.module] {
				continue
			}
			c.lru.Remove(el)
			delete(c.entries, e.module)
			observability.CacheEvictionsTotal.Inc()
			evicted = true
			break
		}
		if !evicted {
			return // everything pinned, allow overflow
		}
	}
}
