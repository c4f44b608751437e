package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logsentinel_cache_requests_total", Help: "Model cache lookups by result (hit, miss, shared)"},
		[]string{"result"},
	)
	CacheBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logsentinel_cache_builds_total", Help: "Model builds by outcome (trained, restored, failed)"},
		[]string{"outcome"},
	)
	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "logsentinel_cache_evictions_total", Help: "Models evicted from the cache"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "logsentinel_cache_entries", Help: "Models resident in the cache"},
	)
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "logsentinel_build_duration_seconds", Help: "Model build latency", Buckets: prometheus.ExponentialBuckets(0.01, 2, 14)},
	)
	LinesScored = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "logsentinel_lines_scored_total", Help: "Target lines scored"},
	)
	Anomalies = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "logsentinel_anomalies_total", Help: "Anomalous lines reported"},
	)
	Reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logsentinel_reports_total", Help: "Reports by final status"},
		[]string{"status"},
	)
	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "logsentinel_workers_busy", Help: "Report workers currently running"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logsentinel_http_requests_total", Help: "HTTP requests served"},
		[]string{"method", "route", "code"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry. It is
// safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheRequests, CacheBuilds, CacheEvictions, CacheEntries, BuildDuration,
			LinesScored, Anomalies, Reports, WorkersBusy, HTTPRequests,
		)
	})
}

func Handler() http.Handler { return promhttp.Handler() }
