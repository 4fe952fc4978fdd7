package engine

import (
	"log/slog"
	"time"

	"github.com/krisalay/posyandu-cache/expiration"
	"github.com/krisalay/posyandu-cache/refresh"
	"github.com/krisalay/posyandu-cache/types"
)

/*
CacheEngine is the policy layer of the session cache.

It decides:
- When an entry is expired
- How expiry is updated on reads and writes
- Whether a hit should be revalidated in the background
- How events are recorded and logged

It does NOT store data, pick shards, lock or choose eviction victims.
*/
type CacheEngine struct {

	// Expiration controls when a cached response is considered too old.
	// The default (expiration.Never) keeps entries for the whole session.
	Expiration expiration.Strategy

	// Refresh decides whether a hit also triggers a silent refetch.
	Refresh refresh.Policy

	// Metrics records hits, misses, evictions, invalidations and so on.
	Metrics types.Metrics

	Logger *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

/*
NewCacheEngine creates a CacheEngine. Every nil argument gets its
do-nothing default so callers never have to check.
*/
func NewCacheEngine(
	exp expiration.Strategy,
	rp refresh.Policy,
	metrics types.Metrics,
	logger *slog.Logger,
) *CacheEngine {
	if exp == nil {
		exp = expiration.Never{}
	}
	if rp == nil {
		rp = refresh.Never{}
	}
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CacheEngine{
		Expiration: exp,
		Refresh:    rp,
		Metrics:    metrics,
		Logger:     logger,
		now:        time.Now,
	}
}

// Now returns the engine's clock.
func (e *CacheEngine) Now() time.Time {
	return e.now()
}

// SetClock replaces the engine's clock. Tests use it to move time.
func (e *CacheEngine) SetClock(now func() time.Time) {
	e.now = now
}

// IsExpired checks whether an entry is expired right now.
func (e *CacheEngine) IsExpired(ent *types.CacheEntry) bool {
	return e.Expiration.IsExpired(ent, e.now())
}

// TracksReads reports whether OnRead mutates the entry.
// When it does, the cache performs the read under the shard mutex.
func (e *CacheEngine) TracksReads() bool {
	switch e.Expiration.(type) {
	case expiration.Never, *expiration.MaxAge:
		return false
	}
	return true
}

/*
OnRead is called every time the cache serves an entry.

It lets sliding expiration push the deadline forward and asks the refresh
policy whether the hit is due for a background revalidation.
*/
func (e *CacheEngine) OnRead(ent *types.CacheEntry) (refreshDue bool) {
	now := e.now()
	e.Expiration.OnRead(ent, now)
	return e.Refresh.Due(ent, now)
}

// OnWrite stamps a fresh entry and applies write-side expiration.
func (e *CacheEngine) OnWrite(ent *types.CacheEntry) {
	now := e.now()
	ent.StoredAt = now
	ent.LastReadAt = now
	e.Expiration.OnWrite(ent, now)
}
