// Package metrics provides Prometheus metrics for the session cache and the query layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krisalay/posyandu-cache/types"
)

// Prometheus implements types.Metrics with counters.
type Prometheus struct {
	// Cache metrics
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Evictions   prometheus.Counter
	Expirations prometheus.Counter

	// Invalidation metrics
	Invalidations      prometheus.Counter
	InvalidatedEntries prometheus.Counter

	// Query metrics
	Refreshes     prometheus.Counter
	StaleDiscards prometheus.Counter
	FetchErrors   prometheus.Counter
}

var _ types.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the metrics under namespace with reg.
// Every session gets its own registry so logging out and in again does not collide.
func NewPrometheus(namespace string, reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)

	return &Prometheus{
		Hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Loads served from the session cache",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found nothing",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries dropped because a bounded cache was full",
		}),
		Expirations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expirations_total",
			Help:      "Entries dropped because they outlived their TTL",
		}),

		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Invalidation calls that removed at least one entry",
		}),
		InvalidatedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_entries_total",
			Help:      "Entries removed by invalidation",
		}),

		Refreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_background_refreshes_total",
			Help:      "Silent revalidations started after a cache hit",
		}),
		StaleDiscards: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_stale_discards_total",
			Help:      "Superseded responses that were ignored",
		}),
		FetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_fetch_errors_total",
			Help:      "Failed requests that were surfaced to a screen",
		}),
	}
}

func (p *Prometheus) Hit()          { p.Hits.Inc() }
func (p *Prometheus) Miss()         { p.Misses.Inc() }
func (p *Prometheus) Eviction()     { p.Evictions.Inc() }
func (p *Prometheus) Expire()       { p.Expirations.Inc() }
func (p *Prometheus) Refresh()      { p.Refreshes.Inc() }
func (p *Prometheus) StaleDiscard() { p.StaleDiscards.Inc() }
func (p *Prometheus) FetchError()   { p.FetchErrors.Inc() }

func (p *Prometheus) Invalidate(n int) {
	if n <= 0 {
		return
	}
	p.Invalidations.Inc()
	p.InvalidatedEntries.Add(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
