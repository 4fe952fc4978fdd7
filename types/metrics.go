package types

// This file defines how the cache and the query layer report what they are doing.

/*
Metrics is called on every event in the cache and query lifecycle.
Implementations must be safe for concurrent use.
*/
type Metrics interface {

	// Hit is called when a load is served from the cache.
	Hit()

	// Miss is called when a load has to go to the backend.
	Miss()

	// Eviction is called when a key is removed because a bounded cache is full.
	Eviction()

	// Expire is called when a key is removed because it has passed its TTL.
	Expire()

	// Refresh is called when a silent background revalidation is started.
	Refresh()

	// Invalidate is called with the number of entries dropped by one invalidation.
	Invalidate(n int)

	// StaleDiscard is called when a superseded response arrives and is ignored.
	StaleDiscard()

	// FetchError is called when the current request for a call site fails.
	FetchError()
}

/*
NoopMetrics ignores every event.

It is the default so the cache and queries never need nil checks.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit()           {}
func (NoopMetrics) Miss()          {}
func (NoopMetrics) Eviction()      {}
func (NoopMetrics) Expire()        {}
func (NoopMetrics) Refresh()       {}
func (NoopMetrics) Invalidate(int) {}
func (NoopMetrics) StaleDiscard()  {}
func (NoopMetrics) FetchError()    {}
