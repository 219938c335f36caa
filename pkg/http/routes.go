// Package http holds the HTTP plumbing shared by the orchestrator servers:
// metrics for inbound handlers and outbound clients, and the routes of the
// internal listener.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DebugRoutes adds the pprof handlers to a mux.
func DebugRoutes(mux *http.ServeMux) *http.ServeMux {
	for path, h := range map[string]http.HandlerFunc{
		"/debug/pprof/":        pprof.Index,
		"/debug/pprof/cmdline": pprof.Cmdline,
		"/debug/pprof/profile": pprof.Profile,
		"/debug/pprof/symbol":  pprof.Symbol,
		"/debug/pprof/trace":   pprof.Trace,
	} {
		mux.Handle(path, h)
	}
	return mux
}

// HealthRoutes adds liveness and readiness checks to a mux. A nil ready is
// always ready.
func HealthRoutes(mux *http.ServeMux, ready func() bool) *http.ServeMux {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// MetricRoutes exposes reg on /metrics.
func MetricRoutes(mux *http.ServeMux, reg *prometheus.Registry) *http.ServeMux {
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// IndexRoute lists paths as JSON on GET /. Other unknown paths are 404.
func IndexRoute(mux *http.ServeMux, paths ...string) *http.ServeMux {
	index, _ := json.MarshalIndent(struct {
		Paths []string `json:"paths"`
	}{Paths: paths}, "", "  ")

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(index)
	})
	return mux
}
