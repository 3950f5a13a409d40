package runtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/prerender/internal/runtime/cache"
)

// ServeRender answers GET requests with the rendered page.
func (c *Coordinator) ServeRender(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := c.requestCorrelationID(r)
	if c.correlationHeader != "" {
		w.Header().Set(c.correlationHeader, correlationID)
	}
	reqLogger := c.logger.With(
		slog.String("path", r.URL.RequestURI()),
		slog.String("correlation_id", correlationID),
	)

	profile := c.Profile()
	mode := useCache
	if rule, ok, err := profile.Bypass.Match(r); ok {
		reqLogger.Debug("cache bypass rule matched", slog.String("rule", rule))
		mode = bypassCache
	} else if err != nil {
		reqLogger.Warn("cache bypass rule evaluation failed", slog.Any("error", err))
	}
	if mode == useCache && c.honorNoCache && cache.ParseCacheControl(r.Header.Get("Cache-Control")).WantsFresh() {
		mode = refreshCache
	}

	rendered, err := c.render(r.Context(), r.URL.RequestURI(), mode, correlationID)
	if err != nil {
		c.WriteError(w, http.StatusInternalServerError, "Prerender error: "+errorMessage(err))
		c.metrics.ObserveRequest("render", http.StatusInternalServerError, "", time.Since(start))
		reqLogger.Error("render request failed", slog.Any("error", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cache.PublicMaxAge(c.cache.Freshness()))
	w.Header().Set("X-Cache", string(rendered.CacheStatus))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, rendered.HTML); err != nil {
		reqLogger.Error("render response write failed", slog.Any("error", err))
	}

	duration := time.Since(start)
	c.metrics.ObserveRequest("render", http.StatusOK, string(rendered.CacheStatus), duration)
	reqLogger.Info("render request served",
		slog.String("cache", string(rendered.CacheStatus)),
		slog.Int("bytes", len(rendered.HTML)),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	)
}

// ServeProbe answers HEAD requests without rendering so uptime checks never
// launch a browser.
func (c *Coordinator) ServeProbe(w http.ResponseWriter, r *http.Request) {
	if c.correlationHeader != "" {
		w.Header().Set(c.correlationHeader, c.requestCorrelationID(r))
	}
	w.WriteHeader(http.StatusNoContent)
	c.metrics.ObserveRequest("probe", http.StatusNoContent, "", 0)
}

type memoryStats struct {
	Alloc     uint64 `json:"alloc"`
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapInuse uint64 `json:"heapInuse"`
	Sys       uint64 `json:"sys"`
	NumGC     uint32 `json:"numGC"`
}

type healthStatus struct {
	Status          string      `json:"status"`
	UptimeSeconds   float64     `json:"uptimeSeconds"`
	Memory          memoryStats `json:"memory"`
	CacheEntries    int         `json:"cacheEntries"`
	CacheCapacity   int         `json:"cacheCapacity"`
	InflightRenders int64       `json:"inflightRenders"`
	ObservedAt      time.Time   `json:"observedAt"`
}

// ServeHealth reports process uptime, memory and cache occupancy.
func (c *Coordinator) ServeHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var mem goruntime.MemStats
	goruntime.ReadMemStats(&mem)

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	status := "ok"
	if closing {
		status = "draining"
	}

	now := c.now()
	payload := healthStatus{
		Status:        status,
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
		Memory: memoryStats{
			Alloc:     mem.Alloc,
			HeapAlloc: mem.HeapAlloc,
			HeapInuse: mem.HeapInuse,
			Sys:       mem.Sys,
			NumGC:     mem.NumGC,
		},
		CacheEntries:    c.cache.Size(),
		CacheCapacity:   c.cache.Capacity(),
		InflightRenders: c.activeSessions.Load(),
		ObservedAt:      now.UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cache.NoStore)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Error("health encode failed", slog.Any("error", err))
	}
	c.metrics.ObserveRequest("health", http.StatusOK, "", time.Since(start))
}

// WriteError emits a plain-text error that intermediaries must not store.
func (c *Coordinator) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", cache.NoStore)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, message); err != nil {
		c.logger.Error("error response write failed", slog.Any("error", err), slog.Int("status", status))
	}
}

func (c *Coordinator) requestCorrelationID(r *http.Request) string {
	if r != nil && c.correlationHeader != "" {
		if candidate := r.Header.Get(c.correlationHeader); candidate != "" {
			return candidate
		}
	}
	return uuid.NewString()
}
