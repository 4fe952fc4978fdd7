package cache

import "github.com/krisalay/posyandu-cache/types"

/*
Store is the public contract of the session cache.

It remembers the last good response per logical query for as long as the
session lives. Keys are opaque strings chosen by call sites; two different
queries must never share one, or data leaks between screens.
*/
type Store interface {

	/*
		Get returns the cached value for key.

		It is synchronous and has no error path: a missing or expired key
		simply reports false.
	*/
	Get(key string) (any, bool)

	/*
		Lookup is Get for the query layer. Besides the value it reports when
		the response was stored and whether the refresh policy wants it
		revalidated in the background.
	*/
	Lookup(key string) (types.Hit, bool)

	/*
		Set inserts or overwrites the value for key. Last write wins;
		nothing is merged. Tags name the resources the value was derived from
		so InvalidateTags can find it later.
	*/
	Set(key string, value any, tags ...string)

	/*
		Epoch counts invalidations. A request captures it before it starts
		and hands it to SetSince when the response arrives.
	*/
	Epoch() uint64

	/*
		SetSince is Set for a response whose request started at epoch since.
		The write is dropped, and false returned, when key, one of tags or
		the whole cache was invalidated after since: the response may predate
		the write that caused the invalidation.
	*/
	SetSince(key string, value any, since uint64, tags ...string) bool

	/*
		Invalidate removes exactly one entry.
		Removing a key that is not there is a silent no-op.
	*/
	Invalidate(key string)

	/*
		InvalidateTags removes every entry carrying at least one of tags and
		returns the removed keys. This is how writes keep reads consistent:
		a write to resource R drops every cached read derived from R.
	*/
	InvalidateTags(tags ...string) []string

	// InvalidatePrefix removes every key starting with prefix and returns them.
	InvalidatePrefix(prefix string) []string

	// Keys returns the keys currently cached, in no particular order.
	Keys() []string

	// Len returns the number of cached entries.
	Len() int

	// Clear drops every entry. Logout calls it.
	Clear()

	// Close releases the cache. It is safe to call more than once.
	Close()
}
