package server

import (
	"net/http"
)

// RenderHTTP is the surface the router needs from the render coordinator.
type RenderHTTP interface {
	ServeRender(http.ResponseWriter, *http.Request)
	ServeProbe(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// RouterOptions names the fixed routes carved out of the catch-all render
// route.
type RouterOptions struct {
	HealthPath  string
	MetricsPath string
	Metrics     http.Handler
}

const allowedMethods = "GET, HEAD"

// NewRenderHandler dispatches every request: HEAD is a cheap probe, GET on the
// health or metrics path is answered locally and any other GET path is
// rendered. Remaining methods are refused.
func NewRenderHandler(p RenderHTTP, opts RouterOptions) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "renderer unavailable", http.StatusServiceUnavailable)
		})
	}
	healthPath := opts.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			p.ServeProbe(w, r)
		case http.MethodGet:
			switch {
			case r.URL.Path == healthPath:
				p.ServeHealth(w, r)
			case opts.Metrics != nil && opts.MetricsPath != "" && r.URL.Path == opts.MetricsPath:
				opts.Metrics.ServeHTTP(w, r)
			default:
				p.ServeRender(w, r)
			}
		default:
			w.Header().Set("Allow", allowedMethods)
			p.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}
