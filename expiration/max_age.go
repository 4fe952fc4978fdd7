package expiration

import (
	"time"

	"github.com/krisalay/posyandu-cache/types"
)

/*
MaxAge expires an entry a fixed time after it was fetched.
Reads do not extend its life: a dashboard painted from a ten minute old
response is still ten minutes old.
*/
type MaxAge struct {
	TTL time.Duration
}

func (m *MaxAge) IsExpired(ent *types.CacheEntry, now time.Time) bool {
	return expired(ent, now)
}

func (m *MaxAge) OnRead(*types.CacheEntry, time.Time) {}

// OnWrite restarts the clock. Every refresh is a fresh fetch.
func (m *MaxAge) OnWrite(ent *types.CacheEntry, now time.Time) {
	if m.TTL <= 0 {
		ent.ExpireAt = time.Time{}
		return
	}
	ent.ExpireAt = now.Add(m.TTL)
}
