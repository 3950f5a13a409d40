package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records render cache lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationInsert records snapshots written after a successful render.
	CacheOperationInsert CacheOperation = "insert"
	// CacheOperationEvict records entries dropped by capacity pressure.
	CacheOperationEvict CacheOperation = "evict"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a fresh snapshot was served.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no usable snapshot was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupBypass indicates the request skipped the cache entirely.
	CacheLookupBypass CacheLookupOutcome = "bypass"
)

// ReleaseOutcome captures how a browser session release ended.
type ReleaseOutcome string

const (
	ReleaseOK      ReleaseOutcome = "ok"
	ReleaseError   ReleaseOutcome = "error"
	ReleaseTimeout ReleaseOutcome = "timeout"
)

// Recorder publishes Prometheus metrics for render activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	renderAttempts *prometheus.CounterVec
	renderLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheEntries    prometheus.Gauge

	sessionsActive  prometheus.Gauge
	sessionReleases *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prerender",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests answered by the prerender server.",
	}, []string{"route", "status_code", "cache"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prerender",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for answered HTTP requests.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"route", "cache"})

	renderAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prerender",
		Subsystem: "render",
		Name:      "attempts_total",
		Help:      "Render attempts executed against the browser, by outcome.",
	}, []string{"outcome"})

	renderLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prerender",
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of render attempts including session release.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prerender",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Render cache operations executed by the coordinator.",
	}, []string{"operation", "result"})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prerender",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Snapshots currently held by the render cache, fresh or not.",
	})

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prerender",
		Subsystem: "browser",
		Name:      "sessions_active",
		Help:      "Browser sessions acquired and not yet released.",
	})

	sessionReleases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prerender",
		Subsystem: "browser",
		Name:      "session_releases_total",
		Help:      "Browser session releases, by result.",
	}, []string{"result"})

	reg.MustRegister(httpRequests, httpLatency, renderAttempts, renderLatency, cacheOperations, cacheEntries, sessionsActive, sessionReleases)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		renderAttempts:  renderAttempts,
		renderLatency:   renderLatency,
		cacheOperations: cacheOperations,
		cacheEntries:    cacheEntries,
		sessionsActive:  sessionsActive,
		sessionReleases: sessionReleases,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records a completed HTTP exchange.
func (r *Recorder) ObserveRequest(route string, statusCode int, cacheStatus string, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	cacheLabel := normalizeLabel(strings.ToLower(cacheStatus))
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(routeLabel, statusLabel, cacheLabel).Inc()
	r.httpLatency.WithLabelValues(routeLabel, cacheLabel).Observe(duration.Seconds())
}

// ObserveRender records the outcome and duration of one render attempt.
func (r *Recorder) ObserveRender(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(outcome)
	r.renderAttempts.WithLabelValues(label).Inc()
	r.renderLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), label).Inc()
}

// ObserveCacheInsert records a snapshot insert and the resulting entry count.
func (r *Recorder) ObserveCacheInsert(entries int) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationInsert), "stored").Inc()
	r.cacheEntries.Set(float64(entries))
}

// ObserveCacheEviction records one capacity eviction.
func (r *Recorder) ObserveCacheEviction() {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationEvict), "capacity").Inc()
}

// SetCacheEntries publishes the current entry count, used after Clear.
func (r *Recorder) SetCacheEntries(entries int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(entries))
}

// SessionAcquired increments the active session gauge.
func (r *Recorder) SessionAcquired() {
	if r == nil {
		return
	}
	r.sessionsActive.Inc()
}

// SessionReleased decrements the active session gauge and counts the result.
func (r *Recorder) SessionReleased(result ReleaseOutcome) {
	if r == nil {
		return
	}
	r.sessionsActive.Dec()
	label := string(result)
	if label == "" {
		label = string(ReleaseOK)
	}
	r.sessionReleases.WithLabelValues(label).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
