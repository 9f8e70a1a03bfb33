package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GeocodeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmf_geocode_cache_lookups_total",
		Help: "Location cache lookups by result (hit, miss)",
	}, []string{"result"})

	GeocodeResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmf_geocode_resolutions_total",
		Help: "Location resolutions performed on cache miss, by method and status",
	}, []string{"method", "status"})

	GeocodeBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmf_geocode_batch_seconds",
		Help:    "Wall time of one batch resolve call",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmf_source_fetch_seconds",
		Help:    "Source adapter fetch latency by prefix",
		Buckets: prometheus.DefBuckets,
	}, []string{"prefix"})

	SourceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmf_source_fetch_errors_total",
		Help: "Failed source fetches by prefix",
	}, []string{"prefix"})

	EventsCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmf_events_cache_lookups_total",
		Help: "Events cache lookups by result (hit, miss)",
	}, []string{"result"})

	DuplicateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cmf_duplicate_events_dropped_total",
		Help: "Events dropped because an earlier source already had the same id",
	})
)
