// Package metrics exposes the service's Prometheus collectors on a private
// registry, keeping the exposition free of other libraries' defaults.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docscan",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docscan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "analyze",
			Name:      "analyses_total",
			Help:      "Total number of document analyses.",
		},
		[]string{"status"},
	)

	analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docscan",
			Subsystem: "analyze",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of document analyses.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"status"},
	)

	ocrPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "analyze",
			Name:      "ocr_pages_total",
			Help:      "Total number of pages sent through OCR.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Report cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docscan",
			Subsystem: "jobs",
			Name:      "inflight",
			Help:      "Jobs currently queued or running.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		analyses,
		analysisDuration,
		ocrPages,
		cacheLookups,
		jobsInFlight,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordAnalysis records one finished analysis.
func RecordAnalysis(status string, duration time.Duration, ocrPageCount int) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	analyses.WithLabelValues(status).Inc()
	analysisDuration.WithLabelValues(status).Observe(duration.Seconds())
	if ocrPageCount > 0 {
		ocrPages.Add(float64(ocrPageCount))
	}
}

// RecordCacheLookup records a report-cache hit or miss.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(outcome).Inc()
}

// JobEnqueued / JobFinished track the in-flight jobs gauge.
func JobEnqueued() { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-resource path segments so metric label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "jobs":
		if len(parts) == 1 {
			return "/jobs"
		}
		if len(parts) >= 3 && parts[2] == "watch" {
			return "/jobs/:id/watch"
		}
		return "/jobs/:id"
	case "reports":
		if len(parts) == 1 {
			return "/reports"
		}
		return "/reports/:hash"
	default:
		return "/" + parts[0]
	}
}
