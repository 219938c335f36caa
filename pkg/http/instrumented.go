package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics instruments the outbound clients of the orchestrator: the
// upstream API, the CAS server, the session endpoint and OAuth2 token
// endpoints. Series are labelled by client name.
type ClientMetrics struct {
	inFlight *prometheus.GaugeVec
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tls      *prometheus.HistogramVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	f := promauto.With(reg)
	return &ClientMetrics{
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_client_in_flight_requests",
			Help: "Requests currently sent by each client.",
		}, []string{"client"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_client_requests_total",
			Help: "Requests sent by each client, by status code and method.",
		}, []string{"client", "code", "method"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_client_request_duration_seconds",
			Help:    "Latency of outbound requests until response headers.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"client", "method"}),
		tls: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_client_tls_handshake_done_seconds",
			Help:    "Time from the start of a request to the end of its TLS handshake.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1},
		}, []string{"client"}),
	}
}

// RoundTripper returns next instrumented as client.
func (m *ClientMetrics) RoundTripper(client string, next http.RoundTripper) http.RoundTripper {
	labels := prometheus.Labels{"client": client}

	trace := &promhttp.InstrumentTrace{
		TLSHandshakeDone: func(t float64) { m.tls.With(labels).Observe(t) },
	}

	rt := promhttp.InstrumentRoundTripperInFlight(m.inFlight.With(labels),
		promhttp.InstrumentRoundTripperCounter(m.requests.MustCurryWith(labels),
			promhttp.InstrumentRoundTripperTrace(trace,
				promhttp.InstrumentRoundTripperDuration(m.duration.MustCurryWith(labels), next),
			),
		),
	)

	// promhttp wrappers hide CloseIdleConnections of the transport.
	if c, ok := next.(idleConnectionCloser); ok {
		return closingRoundTripper{RoundTripper: rt, closer: c}
	}
	return rt
}

type idleConnectionCloser interface {
	CloseIdleConnections()
}

type closingRoundTripper struct {
	http.RoundTripper
	closer idleConnectionCloser
}

func (c closingRoundTripper) CloseIdleConnections() {
	c.closer.CloseIdleConnections()
}
