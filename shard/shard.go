package shard

import (
	"sync"

	"github.com/krisalay/posyandu-cache/eviction"
)

/*
Shard is one independent slice of the session cache.

Each shard has its own store, its own eviction bookkeeping and its own
write mutex, so two screens writing unrelated keys do not contend.
*/
type Shard struct {
	Store Store

	// Eviction is nil when the cache is unbounded (the default for a session).
	// It is only touched with Mu held.
	Eviction eviction.Policy

	// Capacity is this shard's share of the cache capacity. Zero means unbounded.
	Capacity int

	// Mu serialises writers and any read that mutates bookkeeping.
	// Plain reads never take it.
	Mu sync.Mutex
}

func NewShard(ev eviction.Policy, capacity int) *Shard {
	return &Shard{
		Store:    NewCOWStore(),
		Eviction: ev,
		Capacity: capacity,
	}
}

// Bounded reports whether the shard has to evict to make room.
func (s *Shard) Bounded() bool {
	return s.Capacity > 0
}
