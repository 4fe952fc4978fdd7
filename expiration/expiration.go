// This file defines how cache entries expire over time.

package expiration

import (
	"time"

	"github.com/krisalay/posyandu-cache/types"
)

/*
Strategy decides when a cached response is too old to paint a screen with.

A session cache has no expiry by default: entries live until they are
invalidated or the session ends. A strategy is only configured when a
long-lived session needs its memory bounded by time.
*/
type Strategy interface {

	// IsExpired checks if the entry is expired at now.
	IsExpired(*types.CacheEntry, time.Time) bool

	// OnRead is called whenever an entry is served from the cache.
	OnRead(*types.CacheEntry, time.Time)

	// OnWrite is called whenever an entry is stored or overwritten.
	OnWrite(*types.CacheEntry, time.Time)
}

// Never keeps entries for the whole session.
type Never struct{}

func (Never) IsExpired(*types.CacheEntry, time.Time) bool { return false }
func (Never) OnRead(*types.CacheEntry, time.Time)         {}
func (Never) OnWrite(ent *types.CacheEntry, _ time.Time)  { ent.ExpireAt = time.Time{} }

func expired(ent *types.CacheEntry, now time.Time) bool {
	return !ent.ExpireAt.IsZero() && now.After(ent.ExpireAt)
}
