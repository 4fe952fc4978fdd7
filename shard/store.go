package shard

import (
	"sync/atomic"

	"github.com/krisalay/posyandu-cache/types"
)

/*
This file defines how entries are stored inside a shard.

Screens read far more often than they fetch, so the store is copy-on-write:
- readers load an immutable map snapshot without locking
- writers (holding the shard mutex) build a new map and swap it in
*/

// Store is the interface used by a shard to keep cache entries.
type Store interface {

	// Get retrieves an entry by key.
	Get(string) (*types.CacheEntry, bool)

	// Put inserts or replaces an entry.
	Put(string, *types.CacheEntry)

	// Delete removes the given keys in one copy and returns how many existed.
	Delete(...string) int

	// Range calls fn for every entry of the current snapshot until fn returns false.
	Range(fn func(*types.CacheEntry) bool)

	// Reset drops every entry.
	Reset()

	// Size returns how many entries are stored.
	Size() int64
}

type entries = map[string]*types.CacheEntry

// cowStore is the copy-on-write Store.
type cowStore struct {
	data atomic.Pointer[entries]
	size atomic.Int64
}

func NewCOWStore() Store {
	s := &cowStore{}
	m := make(entries)
	s.data.Store(&m)
	return s
}

func (s *cowStore) snapshot() entries {
	return *s.data.Load()
}

func (s *cowStore) swap(m entries) {
	s.data.Store(&m)
	s.size.Store(int64(len(m)))
}

func (s *cowStore) Get(key string) (*types.CacheEntry, bool) {
	ent, ok := s.snapshot()[key]
	return ent, ok
}

// Put copies the current map, adds or replaces key and swaps the copy in.
func (s *cowStore) Put(key string, ent *types.CacheEntry) {
	old := s.snapshot()
	n := make(entries, len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[key] = ent
	s.swap(n)
}

func (s *cowStore) Delete(keys ...string) int {
	old := s.snapshot()

	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := old[k]; ok {
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		// Nothing to do; keep the snapshot readers already hold.
		return 0
	}

	n := make(entries, len(old)-len(drop))
	for k, v := range old {
		if _, gone := drop[k]; !gone {
			n[k] = v
		}
	}
	s.swap(n)
	return len(drop)
}

func (s *cowStore) Range(fn func(*types.CacheEntry) bool) {
	for _, ent := range s.snapshot() {
		if !fn(ent) {
			return
		}
	}
}

func (s *cowStore) Reset() {
	s.swap(make(entries))
}

func (s *cowStore) Size() int64 {
	return s.size.Load()
}
