package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wkalt/spatialcache/cache"
)

// metrics holds the prometheus collectors for one cache. Each router gets
// its own registry so that several caches can be served from one process.
type metrics struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
}

func newMetrics(c *cache.Cache) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spatialcache_request_duration_ms",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		}, []string{"route", "method"}),
	}
	counter := func(name, help string, f func(cache.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(f(c.Counters()))
		})
	}
	gauge := func(name, help string, f func(cache.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(f(c.Counters()))
		})
	}
	m.registry.MustRegister(
		m.duration,
		counter("spatialcache_hits_total", "Total feature reads answered from the cache",
			func(s cache.Stats) int64 { return s.Hits }),
		counter("spatialcache_misses_total", "Total feature reads that fetched from the source",
			func(s cache.Stats) int64 { return s.Misses }),
		counter("spatialcache_fetched_features_total", "Total features fetched from the source",
			func(s cache.Stats) int64 { return s.FetchedFeatures }),
		counter("spatialcache_evictions_total", "Total leaves evicted",
			func(s cache.Stats) int64 { return s.Evictions }),
		counter("spatialcache_evicted_entries_total", "Total entries evicted",
			func(s cache.Stats) int64 { return s.EvictedEntries }),
		gauge("spatialcache_entries", "Entries in the cache",
			func(s cache.Stats) int { return s.Entries }),
		gauge("spatialcache_capacity", "Maximum entries in the cache",
			func(s cache.Stats) int { return s.Capacity }),
		gauge("spatialcache_covered_regions", "Registered regions",
			func(s cache.Stats) int { return s.CoveredRegions }),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records the duration of requests by route template.
func (m *metrics) instrument(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.duration.WithLabelValues(route, r.Method).Observe(float64(time.Since(start).Milliseconds()))
	})
}
