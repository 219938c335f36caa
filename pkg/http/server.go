package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InstrumentedHandlerFactory wraps inbound handlers with metrics labelled
// by handler name. The collectors are registered once.
type InstrumentedHandlerFactory struct {
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.SummaryVec
	requestsTotal   *prometheus.CounterVec
}

func NewInstrumentedHandlerFactory(reg prometheus.Registerer) *InstrumentedHandlerFactory {
	f := &InstrumentedHandlerFactory{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "Tracks the latencies for HTTP requests.",
			},
			[]string{"code", "handler", "method"},
		),
		requestSize: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "http_request_size_bytes",
				Help: "Tracks the size of HTTP requests.",
			},
			[]string{"code", "handler", "method"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Tracks the number of HTTP requests.",
			}, []string{"code", "handler", "method"},
		),
	}
	if reg != nil {
		reg.MustRegister(f.requestDuration, f.requestSize, f.requestsTotal)
	}
	return f
}

// NewHandler instruments next under handlerName.
func (f *InstrumentedHandlerFactory) NewHandler(handlerName string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": handlerName}

	return promhttp.InstrumentHandlerDuration(f.requestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerRequestSize(f.requestSize.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(f.requestsTotal.MustCurryWith(labels),
				next,
			),
		),
	)
}
