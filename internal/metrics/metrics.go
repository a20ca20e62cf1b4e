// Package metrics defines the Prometheus collectors exported by krowser.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "krowser"

// Metrics holds the application collectors.
type Metrics struct {
	BrokerRetries   *prometheus.CounterVec
	CacheRequests   *prometheus.CounterVec
	Decodes         *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	RefreshFailures *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		BrokerRetries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_retries_total",
			Help:      "Broker operations retried after an error.",
		}, []string{"operation"}),
		CacheRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result (hit or miss).",
		}, []string{"cache", "result"}),
		Decodes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_total",
			Help:      "Payloads decoded, by decoder display name and record attribute.",
		}, []string{"decoder", "attribute"}),
		RefreshDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full background cache refresh.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RefreshFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Background refresh phases that failed.",
		}, []string{"phase"}),
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status_code"}),
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// CacheObserver returns a callback recording lookups of the named cache.
func (m *Metrics) CacheObserver(cache string) func(hit bool) {
	hits := m.CacheRequests.WithLabelValues(cache, "hit")
	misses := m.CacheRequests.WithLabelValues(cache, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
			return
		}
		misses.Inc()
	}
}
