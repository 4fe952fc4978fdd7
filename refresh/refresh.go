// This file defines when a cache hit should also trigger a silent refetch.
// The goal is "paint from the cache now, catch up with the backend quietly".

package refresh

import (
	"time"

	"github.com/krisalay/posyandu-cache/types"
)

/*
Policy is consulted on every cache hit.

If it answers true, the query layer still applies the cached value at once
and then issues a background request without showing a loader. The policy
MUST be fast: it runs on the read path.
*/
type Policy interface {
	Due(ent *types.CacheEntry, now time.Time) bool
}

// Never serves hits as they are. Screens that want revalidation ask for it per load.
type Never struct{}

func (Never) Due(*types.CacheEntry, time.Time) bool { return false }

// Always revalidates every hit (stale-while-revalidate).
type Always struct{}

func (Always) Due(*types.CacheEntry, time.Time) bool { return true }

// OlderThan revalidates hits whose response was fetched more than Age ago.
type OlderThan struct {
	Age time.Duration
}

func (o OlderThan) Due(ent *types.CacheEntry, now time.Time) bool {
	return now.Sub(ent.StoredAt) > o.Age
}
