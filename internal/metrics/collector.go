// Package metrics exposes prometheus collectors for the place store, the share
// backend client and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "travelmaps"

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	duplicatesRejected prometheus.Counter
	snapshotSaves      *prometheus.CounterVec
	snapshotSaveTime   prometheus.Histogram
	sharedFetches      *prometheus.CounterVec
	sharedItems        prometheus.Gauge
	backups            *prometheus.CounterVec
	shareRequests      *prometheus.CounterVec
	shareRequestTime   *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpRequestTime    *prometheus.HistogramVec
}

// NewCollector registers every metric on a fresh registry, along with the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		duplicatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_places_rejected_total",
			Help:      "Places rejected because they matched a saved place.",
		}),
		snapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot write-backs by outcome.",
		}, []string{"outcome"}),
		snapshotSaveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_save_duration_seconds",
			Help:      "Duration of snapshot write-backs.",
			Buckets:   prometheus.DefBuckets,
		}),
		sharedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_item_fetches_total",
			Help:      "Shared item feed fetches by outcome.",
		}, []string{"outcome"}),
		sharedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shared_items_last_fetch",
			Help:      "Number of shared items returned by the last successful fetch.",
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup exports and imports by outcome.",
		}, []string{"direction", "outcome"}),
		shareRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_backend_requests_total",
			Help:      "Share backend requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		shareRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "share_backend_request_duration_seconds",
			Help:      "Share backend request duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.duplicatesRejected,
		c.snapshotSaves,
		c.snapshotSaveTime,
		c.sharedFetches,
		c.sharedItems,
		c.backups,
		c.shareRequests,
		c.shareRequestTime,
		c.httpRequests,
		c.httpRequestTime,
	)
	return c
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// DuplicateRejected implements places.Observer.
func (c *Collector) DuplicateRejected() {
	c.duplicatesRejected.Inc()
}

// SnapshotSaved implements places.Observer.
func (c *Collector) SnapshotSaved(duration time.Duration, err error) {
	c.snapshotSaves.WithLabelValues(outcome(err)).Inc()
	c.snapshotSaveTime.Observe(duration.Seconds())
}

// SharedItemsFetched implements places.Observer.
func (c *Collector) SharedItemsFetched(count int, err error) {
	c.sharedFetches.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		c.sharedItems.Set(float64(count))
	}
}

// BackupCompleted implements places.Observer.
func (c *Collector) BackupCompleted(direction string, err error) {
	c.backups.WithLabelValues(direction, outcome(err)).Inc()
}

// RequestCompleted implements shares.Observer.
func (c *Collector) RequestCompleted(endpoint string, duration time.Duration, err error) {
	c.shareRequests.WithLabelValues(endpoint, outcome(err)).Inc()
	c.shareRequestTime.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestTime.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
