// Package tracing configures the OpenTelemetry provider used by the
// inbound handlers and the upstream clients.
package tracing

import (
	"context"
	"fmt"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	propjaeger "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// EndpointType is the protocol spoken by the trace endpoint.
type EndpointType string

const (
	EndpointTypeCollector EndpointType = "collector"
	EndpointTypeAgent     EndpointType = "agent"
	EndpointTypeOTel      EndpointType = "otel"
)

// Config selects where spans are exported. An empty Endpoint disables
// exporting.
type Config struct {
	ServiceName      string
	Endpoint         string
	EndpointType     EndpointType
	SamplingFraction float64
}

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// InitTracer installs the global tracer provider and propagators. Spans of
// upstream calls carry both W3C and Jaeger headers so that APIs behind
// either can join the trace.
func InitTracer(ctx context.Context, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	noop := trace.NewNoopTracerProvider()
	otel.SetTracerProvider(noop)
	nopShutdown := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop, nopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noop, nopShutdown, err
	}

	r, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return noop, nopShutdown, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingFraction))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propjaeger.Jaeger{},
		propagation.Baggage{},
	))

	return provider, provider.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.EndpointType {
	case EndpointTypeAgent:
		host, port, err := net.SplitHostPort(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("cannot parse tracing endpoint host and port: %w", err)
		}
		exp, err := jaeger.New(jaeger.WithAgentEndpoint(jaeger.WithAgentHost(host), jaeger.WithAgentPort(port)))
		if err != nil {
			return nil, fmt.Errorf("create jaeger agent exporter: %w", err)
		}
		return exp, nil
	case EndpointTypeCollector:
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
		if err != nil {
			return nil, fmt.Errorf("create jaeger collector exporter: %w", err)
		}
		return exp, nil
	case EndpointTypeOTel:
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("invalid tracing endpoint type: %q", cfg.EndpointType)
	}
}

// OtelErrorHandler logs errors of the exporters.
type OtelErrorHandler struct {
	Logger log.Logger
}

func (oh OtelErrorHandler) Handle(err error) {
	level.Error(oh.Logger).Log("msg", "opentelemetry", "err", err.Error())
}
