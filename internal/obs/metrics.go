package obs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/Luji7/llm-gateway/internal/config"
)

// Metrics is the gateway's fixed instrument set (spec.md §4.6 step 6-7):
// a requests counter tagged by stream, an errors counter tagged by
// error kind, a latency_ms histogram tagged by stream, and an inflight
// gauge fed from the pipeline's semaphore count.
type Metrics interface {
	RecordRequest(stream bool)
	RecordError(kind string)
	RecordLatency(ms float64, stream bool)
	Shutdown(ctx context.Context) error
}

// otelMetrics implements Metrics on top of an OTel SDK meter exported
// via OTLP (gRPC, the default, or HTTP+basic-auth for a langfuse-style
// collector), mirroring original_source/src/metrics.rs::init_metrics
// exactly: instrument names "ai.gateway.requests"/"ai.gateway.errors"/
// "ai.gateway.latency_ms"/"ai.gateway.inflight".
type otelMetrics struct {
	provider  *sdkmetric.MeterProvider
	requests  metric.Int64Counter
	errors    metric.Int64Counter
	latencyMs metric.Float64Histogram
}

// NewOTelMetrics builds the OTLP-backed instrument set. inflight is
// polled by an observable gauge callback, mirroring the original's
// AtomicU64-backed ObservableGauge.
func NewOTelMetrics(ctx context.Context, cfg *config.Config, inflight func() int64) (Metrics, error) {
	exporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter init error: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter)
	res, _ := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.Observability.ServiceName),
	))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("llm-gateway")

	requests, err := meter.Int64Counter("ai.gateway.requests", metric.WithDescription("Total requests"))
	if err != nil {
		return nil, err
	}
	errorsCounter, err := meter.Int64Counter("ai.gateway.errors", metric.WithDescription("Total errors"))
	if err != nil {
		return nil, err
	}
	latencyMs, err := meter.Float64Histogram("ai.gateway.latency_ms",
		metric.WithUnit("ms"), metric.WithDescription("Request latency in ms"))
	if err != nil {
		return nil, err
	}

	if inflight != nil {
		_, err = meter.Int64ObservableGauge("ai.gateway.inflight",
			metric.WithDescription("In-flight requests"),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				obs.Observe(inflight())
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return &otelMetrics{provider: provider, requests: requests, errors: errorsCounter, latencyMs: latencyMs}, nil
}

func newMetricExporter(ctx context.Context, cfg *config.Config) (sdkmetric.Exporter, error) {
	if cfg.Observability.Exporters.Metrics == "langfuse_http" {
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(cfg.Observability.OtlpHTTP.MetricsEndpoint()),
			otlpmetrichttp.WithTimeout(time.Duration(cfg.Observability.OtlpHTTP.TimeoutMs)*time.Millisecond),
			otlpmetrichttp.WithHeaders(map[string]string{
				"Authorization": basicAuthHeader(cfg.Observability.OtlpHTTP.PublicKey, cfg.Observability.OtlpHTTP.SecretKey),
			}),
		)
	}
	return otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Observability.OtlpGrpc.Endpoint),
		otlpmetricgrpc.WithTimeout(time.Duration(cfg.Observability.OtlpGrpc.TimeoutMs)*time.Millisecond),
		otlpmetricgrpc.WithInsecure(),
	)
}

func (m *otelMetrics) RecordRequest(stream bool) {
	m.requests.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("stream", stream)))
}

func (m *otelMetrics) RecordError(kind string) {
	m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *otelMetrics) RecordLatency(ms float64, stream bool) {
	m.latencyMs.Record(context.Background(), ms, metric.WithAttributes(attribute.Bool("stream", stream)))
}

func (m *otelMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// promMetrics is the alternative "exporters.metrics: prometheus" mode
// (a supplemented feature, see SPEC_FULL.md DOMAIN STACK): a plain
// prometheus.Registry exposed via GET /metrics, independent of the
// OTLP pipeline above.
type promMetrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latencyMs *prometheus.HistogramVec
}

// NewPrometheusMetrics builds the Prometheus-backed instrument set and
// registers an inflight gauge fed by the inflight callback.
func NewPrometheusMetrics(inflight func() int64) Metrics {
	reg := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_requests_total",
		Help: "Total requests",
	}, []string{"stream"})
	errorsCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_errors_total",
		Help: "Total errors",
	}, []string{"type"})
	latencyMs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ai_gateway_latency_ms",
		Help: "Request latency in ms",
	}, []string{"stream"})
	inflightGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ai_gateway_inflight",
		Help: "In-flight requests",
	}, func() float64 {
		if inflight == nil {
			return 0
		}
		return float64(inflight())
	})

	reg.MustRegister(requests, errorsCounter, latencyMs, inflightGauge)

	return &promMetrics{registry: reg, requests: requests, errors: errorsCounter, latencyMs: latencyMs}
}

// Handler exposes the Prometheus registry for GET /metrics.
func (m *promMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *promMetrics) RecordRequest(stream bool) {
	m.requests.WithLabelValues(boolLabel(stream)).Inc()
}

func (m *promMetrics) RecordError(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

func (m *promMetrics) RecordLatency(ms float64, stream bool) {
	m.latencyMs.WithLabelValues(boolLabel(stream)).Observe(ms)
}

func (m *promMetrics) Shutdown(context.Context) error { return nil }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
