package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config controls telemetry bridge construction.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, if set, ships spans to a collector. Accepts a bare
	// host:port (assumed insecure grpc), or a grpc://, grpcs://, http://,
	// https:// URL.
	OTLPEndpoint string

	// EnableRuntimeMetrics additionally reports Go runtime metrics
	// (GC, goroutines) alongside the framework's own counters.
	EnableRuntimeMetrics bool

	Logger *slog.Logger
}

// Bridge is the per-server telemetry sub-object: a meter, a tracer, and a
// Prometheus registry/handler backing /metrics.
type Bridge struct {
	logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	tracer         trace.Tracer

	authVerify       metric.Int64Counter
	authReject       metric.Int64Counter
	authCacheHit     metric.Int64Counter
	sessionsExpired  metric.Int64Counter
	rateLimitReject  metric.Int64Counter
	capacityExceeded metric.Int64Counter
	toolCallDuration metric.Float64Histogram
}

// New constructs a Bridge: a Prometheus registry feeding a meter provider,
// and (if cfg.OTLPEndpoint is set) a trace provider batching spans to an
// OTLP collector.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "mcp-server"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
	if cfg.EnableRuntimeMetrics {
		exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
	}
	metricExporter, err := otelprometheus.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(metricExporter),
	)

	var tracerProvider *sdktrace.TracerProvider
	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		tracerProvider, err = setupTracing(ctx, cfg.OTLPEndpoint, res)
		if err != nil {
			_ = meterProvider.Shutdown(ctx)
			return nil, err
		}
	} else {
		tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if cfg.EnableRuntimeMetrics {
		if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
			logger.Warn("telemetry.runtime_metrics.start_failed", slog.Any("error", err))
		}
	}

	meter := meterProvider.Meter(serviceName)
	b := &Bridge{
		logger:         logger,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		registry:       registry,
		tracer:         tracerProvider.Tracer(serviceName),
	}

	if b.authVerify, err = meter.Int64Counter("auth.verify"); err != nil {
		return nil, err
	}
	if b.authReject, err = meter.Int64Counter("auth.reject"); err != nil {
		return nil, err
	}
	if b.authCacheHit, err = meter.Int64Counter("auth.cache_hit"); err != nil {
		return nil, err
	}
	if b.sessionsExpired, err = meter.Int64Counter("sessions.expired"); err != nil {
		return nil, err
	}
	if b.rateLimitReject, err = meter.Int64Counter("ratelimit.reject"); err != nil {
		return nil, err
	}
	if b.capacityExceeded, err = meter.Int64Counter("queue.capacity_exceeded"); err != nil {
		return nil, err
	}
	if b.toolCallDuration, err = meter.Float64Histogram("tool.call.duration_ms"); err != nil {
		return nil, err
	}

	return b, nil
}

func setupTracing(ctx context.Context, endpoint string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	target, err := resolveOTLPTarget(endpoint)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch target.protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target.endpoint), otlptracegrpc.WithTimeout(10 * time.Second)}
		if target.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(target.endpoint), otlptracehttp.WithTimeout(10 * time.Second)}
		if target.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if target.path != "" {
			opts = append(opts, otlptracehttp.WithURLPath(target.path))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("telemetry: unsupported otlp protocol %q", target.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

type otlpTarget struct {
	protocol string
	endpoint string
	path     string
	insecure bool
}

func resolveOTLPTarget(raw string) (otlpTarget, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4317")
		}
		return otlpTarget{protocol: "grpc", endpoint: endpoint, insecure: true}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse otlp endpoint: %w", err)
	}
	target := otlpTarget{endpoint: u.Host, path: strings.TrimSuffix(u.Path, "/")}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		target.protocol, target.insecure = "grpc", true
	case "grpcs":
		target.protocol, target.insecure = "grpc", false
	case "http":
		target.protocol, target.insecure = "http", true
	case "https":
		target.protocol, target.insecure = "http", false
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unknown otlp scheme %q", u.Scheme)
	}
	return target, nil
}

// MetricsHandler returns the Prometheus text-exposition handler for
// GET /metrics.
func (b *Bridge) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}

// Tracer returns the per-bridge tracer used to span the handler ->
// middleware chain -> tool handler path.
func (b *Bridge) Tracer() trace.Tracer { return b.tracer }

// AuthEvent implements auth.EventSink.
func (b *Bridge) AuthEvent(kind string) {
	ctx := context.Background()
	switch kind {
	case "verify":
		b.authVerify.Add(ctx, 1)
	case "reject":
		b.authReject.Add(ctx, 1)
	case "cache_hit":
		b.authCacheHit.Add(ctx, 1)
	}
}

// SessionsExpired records how many sessions the reaper cleaned up in one
// sweep.
func (b *Bridge) SessionsExpired(n int) {
	if n <= 0 {
		return
	}
	b.sessionsExpired.Add(context.Background(), int64(n))
}

// RateLimitReject records a rejection from either the per-tool or the
// per-IP rate limiter.
func (b *Bridge) RateLimitReject(scope string) {
	b.rateLimitReject.Add(context.Background(), 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// CapacityExceeded records a backpressure reject.
func (b *Bridge) CapacityExceeded() {
	b.capacityExceeded.Add(context.Background(), 1)
}

// ObserveToolCall records a tool call's wall-clock duration.
func (b *Bridge) ObserveToolCall(ctx context.Context, toolName string, dur time.Duration, err error) {
	b.toolCallDuration.Record(ctx, float64(dur.Milliseconds()),
		metric.WithAttributes(
			attribute.String("tool", toolName),
			attribute.Bool("error", err != nil),
		),
	)
}

// StartSpan starts a span named name as a child of ctx's current span.
func (b *Bridge) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name)
}

// Shutdown flushes and closes the meter/trace providers. Safe to call on a
// nil Bridge.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b == nil {
		return nil
	}
	var errs []error
	if b.meterProvider != nil {
		if err := b.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if b.tracerProvider != nil {
		if err := b.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
