package cache_test

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	cache "github.com/krisalay/posyandu-cache"
	"github.com/krisalay/posyandu-cache/engine"
	"github.com/krisalay/posyandu-cache/eviction"
	"github.com/krisalay/posyandu-cache/expiration"
	"github.com/krisalay/posyandu-cache/refresh"
)

//
// ================= TEST CLOCK =================
//

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

//
// ================= HELPER: CREATE CACHE =================
//

func newTestCache(cfg cache.Config, exp expiration.Strategy) (*cache.SessionCache, *testClock) {
	clock := newTestClock()

	eng := engine.NewCacheEngine(exp, nil, nil, nil)
	eng.SetClock(clock.Now)

	return cache.NewSessionCache(cfg, eng), clock
}

//
// ================= BASIC OPERATIONS =================
//

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_posyandus", []string{"Melati"})

	v, ok := c.Get("admin_posyandus")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got := v.([]string); len(got) != 1 || got[0] != "Melati" {
		t.Fatalf("expected [Melati], got %v", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	v, ok := c.Get("admin_children")
	if ok || v != nil {
		t.Fatalf("expected miss, got %v", v)
	}
}

func TestOverwriteKeepsLatest(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_dashboard", 1)
	c.Set("admin_dashboard", 2)

	v, _ := c.Get("admin_dashboard")
	if v != 2 {
		t.Fatalf("expected 2, got %v", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry, got %d", c.Len())
	}
}

func TestLookupStampsStoredAt(t *testing.T) {
	c, clock := newTestCache(cache.Config{}, nil)

	c.Set("admin_dashboard", 1)
	stored := clock.Now()
	clock.Advance(time.Minute)

	hit, ok := c.Lookup("admin_dashboard")
	if !ok {
		t.Fatalf("expected hit")
	}
	if !hit.StoredAt.Equal(stored) {
		t.Fatalf("expected StoredAt %v, got %v", stored, hit.StoredAt)
	}
}

//
// ================= INVALIDATION =================
//

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_posyandus_active", 1)
	c.Invalidate("admin_posyandus_active")

	if _, ok := c.Get("admin_posyandus_active"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestInvalidateMissingKeyIsNoop(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_users", 1)
	c.Invalidate("admin_children")

	if c.Len() != 1 {
		t.Fatalf("expected untouched cache, got %d entries", c.Len())
	}
}

func TestInvalidateTags(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_posyandus_active", 1, "posyandu")
	c.Set("admin_posyandus_inactive", 2, "posyandu")
	c.Set("admin_dashboard", 3, "child", "dashboard", "posyandu")
	c.Set("admin_children", 4, "child")

	removed := c.InvalidateTags("posyandu")

	want := []string{"admin_dashboard", "admin_posyandus_active", "admin_posyandus_inactive"}
	if !slices.Equal(removed, want) {
		t.Fatalf("expected %v, got %v", want, removed)
	}
	if _, ok := c.Get("admin_children"); !ok {
		t.Fatalf("untagged entry must survive")
	}
}

func TestInvalidateNoTags(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_children", 1, "child")

	if removed := c.InvalidateTags(); removed != nil {
		t.Fatalf("expected nothing removed, got %v", removed)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_dashboard", 1)
	c.Set("admin_dashboard_12", 2)
	c.Set("admin_children", 3)

	removed := c.InvalidatePrefix("admin_dashboard")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 left, got %d", c.Len())
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(cache.Config{Capacity: 4}, nil)

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("key%d", i), i)
	}
	c.Clear()

	if c.Len() != 0 || len(c.Keys()) != 0 {
		t.Fatalf("expected empty cache")
	}

	// eviction bookkeeping was reset too
	c.Set("again", 1)
	if _, ok := c.Get("again"); !ok {
		t.Fatalf("expected hit after clear")
	}
}

//
// ================= CAPACITY & EVICTION =================
//

func TestUnboundedByDefault(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	for i := 0; i < 1000; i++ {
		c.Set(fmt.Sprintf("key%d", i), i)
	}
	if c.Len() != 1000 {
		t.Fatalf("expected 1000 entries, got %d", c.Len())
	}
}

func TestEvictionLRU(t *testing.T) {
	c, _ := newTestCache(cache.Config{Shards: 1, Capacity: 2, Eviction: eviction.LRU}, nil)

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Get("key1")    // key2 is now least recently used
	c.Set("key3", 3) // evicts key2

	if _, ok := c.Get("key2"); ok {
		t.Fatalf("expected key2 evicted")
	}
	if _, ok := c.Get("key1"); !ok {
		t.Fatalf("expected key1 kept")
	}
}

func TestEvictionFIFO(t *testing.T) {
	c, _ := newTestCache(cache.Config{Shards: 1, Capacity: 2, Eviction: eviction.FIFO}, nil)

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Get("key1")    // reads do not matter
	c.Set("key3", 3) // evicts key1

	if _, ok := c.Get("key1"); ok {
		t.Fatalf("expected key1 evicted")
	}
	if _, ok := c.Get("key2"); !ok {
		t.Fatalf("expected key2 kept")
	}
}

func TestEvictionLFU(t *testing.T) {
	c, _ := newTestCache(cache.Config{Shards: 1, Capacity: 2, Eviction: eviction.LFU}, nil)

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Get("key1")
	c.Get("key1")
	c.Get("key2")    // key1 read twice, key2 once
	c.Set("key3", 3) // evicts key2

	if _, ok := c.Get("key2"); ok {
		t.Fatalf("expected key2 evicted")
	}
	if _, ok := c.Get("key1"); !ok {
		t.Fatalf("expected key1 kept")
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(cache.Config{Shards: 1, Capacity: 2}, nil)

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Set("key2", 3)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

//
// ================= IN-FLIGHT WRITES =================
//

func TestSetSinceDropsInvalidatedWrites(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *cache.SessionCache)
		key        string
		tags       []string
	}{
		{"key", func(c *cache.SessionCache) { c.Invalidate("admin_children") }, "admin_children", nil},
		{"tag", func(c *cache.SessionCache) { c.InvalidateTags("child") }, "admin_children", []string{"child"}},
		{"prefix", func(c *cache.SessionCache) { c.InvalidatePrefix("admin_") }, "admin_children", nil},
		{"clear", func(c *cache.SessionCache) { c.Clear() }, "admin_children", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(cache.Config{}, nil)

			since := c.Epoch()
			tt.invalidate(c)

			if c.SetSince(tt.key, "pre-write", since, tt.tags...) {
				t.Fatalf("write started before the invalidation must be dropped")
			}
			if _, ok := c.Get(tt.key); ok {
				t.Fatalf("expected %s not cached", tt.key)
			}
			if !c.SetSince(tt.key, "post-write", c.Epoch(), tt.tags...) {
				t.Fatalf("write started after the invalidation must be kept")
			}
		})
	}
}

func TestSetSinceIgnoresUnrelatedInvalidation(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	since := c.Epoch()
	c.InvalidateTags("user")
	c.Invalidate("admin_dashboard")

	if !c.SetSince("admin_children", "children", since, "child") {
		t.Fatalf("invalidating other resources must not drop the write")
	}
	if v, _ := c.Get("admin_children"); v != "children" {
		t.Fatalf("expected children, got %v", v)
	}
}

//
// ================= TTL TEST =================
//

func TestMaxAgeExpiration(t *testing.T) {
	c, clock := newTestCache(cache.Config{}, &expiration.MaxAge{TTL: time.Minute})

	c.Set("admin_dashboard", 1)

	clock.Advance(30 * time.Second)
	if _, ok := c.Get("admin_dashboard"); !ok {
		t.Fatalf("expected hit before TTL")
	}

	// reads do not extend a max age
	clock.Advance(31 * time.Second)
	if _, ok := c.Get("admin_dashboard"); ok {
		t.Fatalf("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed")
	}
}

func TestIdleTimeoutSlides(t *testing.T) {
	c, clock := newTestCache(cache.Config{}, &expiration.IdleTimeout{TTL: time.Minute})

	c.Set("admin_children", 1)

	for i := 0; i < 3; i++ {
		clock.Advance(45 * time.Second)
		if _, ok := c.Get("admin_children"); !ok {
			t.Fatalf("expected read %d to keep the entry alive", i)
		}
	}

	clock.Advance(61 * time.Second)
	if _, ok := c.Get("admin_children"); ok {
		t.Fatalf("expected miss after idle timeout")
	}
}

func TestRefreshDue(t *testing.T) {
	clock := newTestClock()
	eng := engine.NewCacheEngine(nil, refresh.OlderThan{Age: time.Minute}, nil, nil)
	eng.SetClock(clock.Now)
	c := cache.NewSessionCache(cache.Config{}, eng)

	c.Set("admin_dashboard", 1)

	hit, _ := c.Lookup("admin_dashboard")
	if hit.RefreshDue {
		t.Fatalf("fresh entry should not be due")
	}

	clock.Advance(2 * time.Minute)
	hit, _ = c.Lookup("admin_dashboard")
	if !hit.RefreshDue {
		t.Fatalf("old entry should be due")
	}
}

//
// ================= CLOSE =================
//

func TestCloseDropsLateWrites(t *testing.T) {
	c, _ := newTestCache(cache.Config{}, nil)

	c.Set("admin_dashboard", 1)
	c.Close()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache after close")
	}

	c.Set("admin_dashboard", 2)
	if _, ok := c.Get("admin_dashboard"); ok {
		t.Fatalf("write after close must be ignored")
	}

	c.Close()
}

//
// ================= CONCURRENCY TEST =================
//

func TestConcurrentGetSet(t *testing.T) {
	c, _ := newTestCache(cache.Config{Capacity: 64}, &expiration.IdleTimeout{TTL: time.Hour})

	wg := sync.WaitGroup{}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key%d", j%32)
				c.Set(key, j, "child")
				c.Get(key)
				if j%50 == 0 {
					c.InvalidateTags("child")
				}
			}
		}(i)
	}

	wg.Wait()

	if c.Len() > 64 {
		t.Fatalf("expected at most 64 entries, got %d", c.Len())
	}
}
