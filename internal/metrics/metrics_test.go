package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveRequest(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("render", 200, "MISS", 250*time.Millisecond)

	families := gather(t, rec, "prerender_http_requests_total", "prerender_http_request_duration_seconds")

	counter := findMetric(t, families["prerender_http_requests_total"], map[string]string{
		"route":       "render",
		"status_code": "200",
		"cache":       "miss",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	hist := findMetric(t, families["prerender_http_request_duration_seconds"], map[string]string{
		"route": "render",
		"cache": "miss",
	}).GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for request latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	if diff := math.Abs(hist.GetSampleSum() - 0.25); diff > 0.001 {
		t.Fatalf("expected histogram sum near 0.25, got %v", hist.GetSampleSum())
	}
}

func TestRecorderObserveRender(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRender("navigation_timeout", 2*time.Second)
	rec.ObserveRender("", time.Second)

	families := gather(t, rec, "prerender_render_attempts_total", "prerender_render_duration_seconds")
	timeout := findMetric(t, families["prerender_render_attempts_total"], map[string]string{"outcome": "navigation_timeout"})
	if got := timeout.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected one timed out attempt, got %v", got)
	}
	unknown := findMetric(t, families["prerender_render_attempts_total"], map[string]string{"outcome": "unknown"})
	if got := unknown.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected blank outcome to normalize to unknown, got %v", got)
	}
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup(CacheLookupHit)
	rec.ObserveCacheLookup("")
	rec.ObserveCacheInsert(3)
	rec.ObserveCacheEviction()

	families := gather(t, rec, "prerender_cache_operations_total", "prerender_cache_entries")

	for _, labels := range []map[string]string{
		{"operation": string(CacheOperationLookup), "result": string(CacheLookupHit)},
		{"operation": string(CacheOperationLookup), "result": string(CacheLookupMiss)},
		{"operation": string(CacheOperationInsert), "result": "stored"},
		{"operation": string(CacheOperationEvict), "result": "capacity"},
	} {
		metric := findMetric(t, families["prerender_cache_operations_total"], labels)
		if got := metric.GetCounter().GetValue(); got != 1 {
			t.Fatalf("expected counter 1 for %v, got %v", labels, got)
		}
	}

	entries := families["prerender_cache_entries"][0].GetGauge().GetValue()
	if entries != 3 {
		t.Fatalf("expected entries gauge 3, got %v", entries)
	}

	rec.SetCacheEntries(0)
	families = gather(t, rec, "prerender_cache_entries")
	if got := families["prerender_cache_entries"][0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected entries gauge reset to 0, got %v", got)
	}
}

func TestRecorderSessionGauge(t *testing.T) {
	rec := NewRecorder(nil)
	rec.SessionAcquired()
	rec.SessionAcquired()
	rec.SessionReleased(ReleaseOK)
	rec.SessionReleased(ReleaseTimeout)

	families := gather(t, rec, "prerender_browser_sessions_active", "prerender_browser_session_releases_total")
	if got := families["prerender_browser_sessions_active"][0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected no active sessions, got %v", got)
	}
	timeout := findMetric(t, families["prerender_browser_session_releases_total"], map[string]string{"result": "timeout"})
	if got := timeout.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected one timed out release, got %v", got)
	}
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("render", 200, "HIT", time.Millisecond)
	rec.ObserveRender("success", time.Millisecond)
	rec.ObserveCacheLookup(CacheLookupHit)
	rec.ObserveCacheInsert(1)
	rec.ObserveCacheEviction()
	rec.SetCacheEntries(0)
	rec.SessionAcquired()
	rec.SessionReleased(ReleaseOK)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
