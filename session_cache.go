package cache

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	api "github.com/krisalay/posyandu-cache/api"
	"github.com/krisalay/posyandu-cache/engine"
	evict "github.com/krisalay/posyandu-cache/eviction"
	"github.com/krisalay/posyandu-cache/shard"
	"github.com/krisalay/posyandu-cache/types"
)

// DefaultShards is used when Config.Shards is not positive.
const DefaultShards = 4

/*
Config controls the shape of a session cache.

Zero values are the session defaults:
  - Shards <= 0 means DefaultShards
  - Capacity <= 0 means unbounded; entries live until invalidated or the session ends
  - Eviction is only consulted when Capacity > 0 (empty means LRU)
*/
type Config struct {
	Shards   int
	Capacity int
	Eviction evict.PolicyType
}

/*
SessionCache is the keyed response cache of one logged-in session.

It connects:
- shards (storage + per-shard write lock)
- the engine (expiration, refresh policy, metrics, logging)
- an optional eviction policy when the session is bounded

Every screen under the same session reads and writes it. Two screens
writing the same key is fine: they fetched the same logical resource and the
last write wins.
*/
type SessionCache struct {
	shards   []*shard.Shard
	engine   *engine.CacheEngine
	selector shard.Selector
	policy   evict.PolicyType
	closed   atomic.Bool

	// inval serialises invalidations with SetSince. Lock order: inval, then a shard.
	inval    sync.Mutex
	epoch    atomic.Uint64
	marks    map[string]uint64
	prefixes map[string]uint64
	cleared  uint64
}

var _ api.Store = (*SessionCache)(nil)

func NewSessionCache(cfg Config, eng *engine.CacheEngine) *SessionCache {
	if eng == nil {
		eng = engine.NewCacheEngine(nil, nil, nil, nil)
	}

	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}

	// Round up so a small capacity still leaves every shard room for one entry.
	perShard := 0
	if cfg.Capacity > 0 {
		perShard = (cfg.Capacity + n - 1) / n
	}

	s := make([]*shard.Shard, n)
	for i := range s {
		var ev evict.Policy
		if perShard > 0 {
			ev = evict.NewEvictionPolicy(cfg.Eviction)
		}
		s[i] = shard.NewShard(ev, perShard)
	}

	return &SessionCache{
		shards:   s,
		engine:   eng,
		selector: shard.HashSelector{},
		policy:   cfg.Eviction,
		marks:    make(map[string]uint64),
		prefixes: make(map[string]uint64),
	}
}

// Engine exposes the policy layer so the query layer can share its metrics and logger.
func (c *SessionCache) Engine() *engine.CacheEngine {
	return c.engine
}

func (c *SessionCache) Get(key string) (any, bool) {
	hit, ok := c.Lookup(key)
	if !ok {
		return nil, false
	}
	return hit.Value, true
}

/*
Lookup reads an entry.

Unbounded caches without sliding expiry read lock-free from the shard
snapshot. Otherwise the read has bookkeeping to do (LRU order, idle
deadline) and runs under the shard mutex.
*/
func (c *SessionCache) Lookup(key string) (types.Hit, bool) {
	sh := c.selector.Select(key, c.shards)

	if sh.Bounded() || c.engine.TracksReads() {
		sh.Mu.Lock()
		defer sh.Mu.Unlock()
		return c.lookupLocked(sh, key)
	}

	ent, ok := sh.Store.Get(key)
	if !ok {
		c.engine.Metrics.Miss()
		return types.Hit{}, false
	}
	if c.engine.IsExpired(ent) {
		sh.Mu.Lock()
		c.expireLocked(sh, key)
		sh.Mu.Unlock()
		c.engine.Metrics.Miss()
		return types.Hit{}, false
	}

	c.engine.Metrics.Hit()
	return types.Hit{
		Value:      ent.Value,
		StoredAt:   ent.StoredAt,
		RefreshDue: c.engine.OnRead(ent),
	}, true
}

func (c *SessionCache) lookupLocked(sh *shard.Shard, key string) (types.Hit, bool) {
	ent, ok := sh.Store.Get(key)
	if !ok {
		c.engine.Metrics.Miss()
		return types.Hit{}, false
	}
	if c.engine.IsExpired(ent) {
		c.expireLocked(sh, key)
		c.engine.Metrics.Miss()
		return types.Hit{}, false
	}

	c.engine.Metrics.Hit()
	due := c.engine.OnRead(ent)
	if sh.Eviction != nil {
		sh.Eviction.OnGet(key)
	}
	return types.Hit{Value: ent.Value, StoredAt: ent.StoredAt, RefreshDue: due}, true
}

// expireLocked removes an expired entry. Another reader may have beaten us to it.
func (c *SessionCache) expireLocked(sh *shard.Shard, key string) {
	if ent, ok := sh.Store.Get(key); !ok || !c.engine.IsExpired(ent) {
		return
	}
	sh.Store.Delete(key)
	if sh.Eviction != nil {
		sh.Eviction.Remove(key)
	}
	c.engine.Metrics.Expire()
	c.engine.Logger.Debug("cache entry expired", "key", key)
}

/*
Set stores value under key.

A fresh entry is built on every write so lock-free readers never observe a
half-updated one.
*/
func (c *SessionCache) Set(key string, value any, tags ...string) {
	c.set(key, value, tags)
}

func (c *SessionCache) Epoch() uint64 {
	return c.epoch.Load()
}

func (c *SessionCache) SetSince(key string, value any, since uint64, tags ...string) bool {
	c.inval.Lock()
	defer c.inval.Unlock()

	if c.invalidatedSince(key, tags, since) {
		c.engine.Logger.Debug("invalidated while in flight, not cached", "key", key)
		return false
	}
	c.set(key, value, tags)
	return true
}

// invalidatedSince reports whether key or one of tags was invalidated after since. Callers hold c.inval.
func (c *SessionCache) invalidatedSince(key string, tags []string, since uint64) bool {
	if c.cleared > since || c.marks[key] > since {
		return true
	}
	for _, t := range tags {
		if c.marks[tagMark(t)] > since {
			return true
		}
	}
	for p, at := range c.prefixes {
		if at > since && strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// tagMark keeps tag marks apart from key marks.
func tagMark(tag string) string {
	return "#" + tag
}

// bump starts a new epoch. Callers hold c.inval.
func (c *SessionCache) bump() uint64 {
	return c.epoch.Add(1)
}

func (c *SessionCache) set(key string, value any, tags []string) {
	if c.closed.Load() {
		c.engine.Logger.Debug("cache closed, dropping write", "key", key)
		return
	}

	sh := c.selector.Select(key, c.shards)

	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	if sh.Bounded() {
		if _, exists := sh.Store.Get(key); !exists {
			for sh.Store.Size() >= int64(sh.Capacity) {
				victim := sh.Eviction.Evict()
				if victim == "" {
					break
				}
				sh.Store.Delete(victim)
				c.engine.Metrics.Eviction()
				c.engine.Logger.Debug("cache entry evicted", "key", victim)
			}
		}
	}

	ent := &types.CacheEntry{
		Key:   key,
		Value: value,
		Tags:  slices.Clone(tags),
	}
	c.engine.OnWrite(ent)

	sh.Store.Put(key, ent)
	if sh.Eviction != nil {
		sh.Eviction.OnPut(key)
	}
}

func (c *SessionCache) Invalidate(key string) {
	c.inval.Lock()
	defer c.inval.Unlock()
	c.marks[key] = c.bump()

	sh := c.selector.Select(key, c.shards)

	sh.Mu.Lock()
	n := sh.Store.Delete(key)
	if sh.Eviction != nil {
		sh.Eviction.Remove(key)
	}
	sh.Mu.Unlock()

	if n > 0 {
		c.engine.Metrics.Invalidate(n)
		c.engine.Logger.Debug("cache invalidated", "key", key)
	}
}

func (c *SessionCache) InvalidateTags(tags ...string) []string {
	if len(tags) == 0 {
		return nil
	}

	c.inval.Lock()
	defer c.inval.Unlock()
	at := c.bump()
	for _, t := range tags {
		c.marks[tagMark(t)] = at
	}

	removed := c.removeWhere(func(ent *types.CacheEntry) bool {
		for _, t := range tags {
			if ent.HasTag(t) {
				return true
			}
		}
		return false
	})
	c.engine.Logger.Debug("cache invalidated by tag", "tags", tags, "keys", removed)
	return removed
}

func (c *SessionCache) InvalidatePrefix(prefix string) []string {
	c.inval.Lock()
	defer c.inval.Unlock()
	c.prefixes[prefix] = c.bump()

	removed := c.removeWhere(func(ent *types.CacheEntry) bool {
		return strings.HasPrefix(ent.Key, prefix)
	})
	c.engine.Logger.Debug("cache invalidated by prefix", "prefix", prefix, "keys", removed)
	return removed
}

// removeWhere drops every entry matching fn, one shard at a time.
func (c *SessionCache) removeWhere(fn func(*types.CacheEntry) bool) []string {
	var removed []string
	for _, sh := range c.shards {
		sh.Mu.Lock()
		var keys []string
		sh.Store.Range(func(ent *types.CacheEntry) bool {
			if fn(ent) {
				keys = append(keys, ent.Key)
			}
			return true
		})
		sh.Store.Delete(keys...)
		if sh.Eviction != nil {
			for _, k := range keys {
				sh.Eviction.Remove(k)
			}
		}
		sh.Mu.Unlock()
		removed = append(removed, keys...)
	}

	if len(removed) > 0 {
		c.engine.Metrics.Invalidate(len(removed))
	}
	slices.Sort(removed)
	return removed
}

func (c *SessionCache) Keys() []string {
	var keys []string
	for _, sh := range c.shards {
		sh.Store.Range(func(ent *types.CacheEntry) bool {
			keys = append(keys, ent.Key)
			return true
		})
	}
	return keys
}

func (c *SessionCache) Len() int {
	total := 0
	for _, sh := range c.shards {
		total += int(sh.Store.Size())
	}
	return total
}

func (c *SessionCache) Clear() {
	c.inval.Lock()
	defer c.inval.Unlock()
	c.cleared = c.bump()

	for _, sh := range c.shards {
		sh.Mu.Lock()
		sh.Store.Reset()
		if sh.Eviction != nil {
			sh.Eviction = evict.NewEvictionPolicy(c.policy)
		}
		sh.Mu.Unlock()
	}
}

/*
Close tears the cache down at logout.
Entries are dropped and later writes (late responses of requests that were
still in flight) are ignored.
*/
func (c *SessionCache) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.Clear()
}
