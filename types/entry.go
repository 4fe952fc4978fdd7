package types

import "time"

/*
CacheEntry is one remembered response.

It is owned by the session cache: created on the first successful fetch for
a key, overwritten on every refresh and removed on invalidation.
*/
type CacheEntry struct {
	Key   string
	Value any

	// StoredAt is the wall-clock time of the last successful write.
	StoredAt time.Time

	// LastReadAt is bumped on every hit. Timestamp races are acceptable.
	LastReadAt time.Time

	// ExpireAt is zero when the entry never expires (the default).
	ExpireAt time.Time

	// Tags name the resources this response was derived from.
	Tags []string
}

// HasTag reports whether the entry carries tag.
func (e *CacheEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Hit is what a cache lookup hands back to the query layer.
type Hit struct {
	Value    any
	StoredAt time.Time

	// RefreshDue is set when the refresh policy wants a silent revalidation.
	RefreshDue bool
}
