package cacheproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts answered requests by cache status and response code
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheproxy_requests_total",
			Help: "Total number of requests answered by the proxy",
		},
		[]string{"cache", "code"}, // "hit", "fwd", "none"
	)

	// CacheLookups tracks lookup results
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheproxy_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheproxy_cache_bytes",
			Help: "Bytes currently held by the cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheproxy_cache_entries",
			Help: "Number of entries currently held by the cache",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_cache_evictions_total",
			Help: "Total number of entries evicted to stay within capacity",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheproxy_active_connections",
			Help: "Number of client connections currently being handled",
		},
	)

	// UpstreamDuration tracks time from dial to the end of the upstream response
	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheproxy_upstream_duration_seconds",
			Help:    "Duration of upstream exchanges",
			Buckets: prometheus.DefBuckets,
		},
	)

	AcceptErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_accept_errors_total",
			Help: "Total number of failed accepts on the client listener",
		},
	)
)

// refreshCacheMetrics copies the provider stats into the cache gauges.
func (p *Proxy) refreshCacheMetrics() {
	s := p.cache.Stats()
	CacheBytes.Set(float64(s.Bytes))
	CacheEntries.Set(float64(s.Entries))
	for {
		prev := p.reportedEvictions.Load()
		if s.Evictions <= prev {
			return
		}
		if p.reportedEvictions.CompareAndSwap(prev, s.Evictions) {
			CacheEvictions.Add(float64(s.Evictions - prev))
			return
		}
	}
}
