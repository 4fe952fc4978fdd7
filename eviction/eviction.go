package eviction

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPolicy = errors.New("eviction: unknown policy")

/*
This file defines how a bounded session cache decides what to drop.

Sessions are unbounded by default; a policy only comes into play when the
cache is configured with a capacity.
*/

/*
Policy is the bookkeeping every eviction strategy keeps.
Implementations are not safe for concurrent use: the owning shard calls
them with its mutex held.
*/
type Policy interface {

	// OnGet is called whenever a key is served from the cache.
	OnGet(string)

	// OnPut is called whenever a key is stored or overwritten.
	OnPut(string)

	// Remove is called when a key is invalidated or expired (not evicted).
	Remove(string)

	// Evict picks the victim and forgets it. It returns "" when nothing is tracked.
	Evict() string

	// Len returns how many keys are tracked.
	Len() int
}

// PolicyType names a supported eviction strategy.
type PolicyType string

const (
	// LRU drops the key nobody has read for the longest time.
	LRU PolicyType = "LRU"

	// LFU drops the key read the fewest times; ties go to the oldest.
	LFU PolicyType = "LFU"

	// FIFO drops the key that was first stored, regardless of reads.
	FIFO PolicyType = "FIFO"
)

// ParsePolicyType reads a policy name in any case. An empty name means LRU.
func ParsePolicyType(name string) (PolicyType, error) {
	switch t := PolicyType(strings.ToUpper(strings.TrimSpace(name))); t {
	case "":
		return LRU, nil
	case LRU, LFU, FIFO:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q (want LRU, LFU or FIFO)", ErrUnknownPolicy, name)
	}
}

// NewEvictionPolicy creates the policy for t. An empty type means LRU.
// It panics on an unknown type; use ParsePolicyType on untrusted input.
func NewEvictionPolicy(t PolicyType) Policy {
	switch t {
	case LRU, "":
		return newOrdered(true)
	case LFU:
		return newLFU()
	case FIFO:
		return newOrdered(false)
	default:
		panic("unknown eviction policy " + string(t))
	}
}
