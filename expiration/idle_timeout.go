package expiration

import (
	"time"

	"github.com/krisalay/posyandu-cache/types"
)

/*
IdleTimeout implements "expire after access" (a sliding TTL).

Every read pushes the expiration forward, so keys for screens the user keeps
returning to stay warm while one-off keys (a single child's growth chart, a
report for an old period) drop out once nobody has looked at them for TTL.
*/
type IdleTimeout struct {
	TTL time.Duration
}

func (e *IdleTimeout) IsExpired(ent *types.CacheEntry, now time.Time) bool {
	return expired(ent, now)
}

func (e *IdleTimeout) OnRead(ent *types.CacheEntry, now time.Time) {
	ent.LastReadAt = now
	if e.TTL > 0 {
		ent.ExpireAt = now.Add(e.TTL)
	}
}

func (e *IdleTimeout) OnWrite(ent *types.CacheEntry, now time.Time) {
	ent.LastReadAt = now
	if e.TTL > 0 {
		ent.ExpireAt = now.Add(e.TTL)
	}
}
