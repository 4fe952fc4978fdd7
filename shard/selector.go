package shard

import "hash/fnv"

// Selector decides which shard owns a key.
type Selector interface {
	Select(string, []*Shard) *Shard
}

// HashSelector spreads keys over shards by their FNV-1a hash.
type HashSelector struct{}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func (HashSelector) Select(key string, shards []*Shard) *Shard {
	if len(shards) == 1 {
		return shards[0]
	}
	return shards[hash(key)%uint32(len(shards))]
}
