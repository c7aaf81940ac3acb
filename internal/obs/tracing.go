package obs

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Luji7/llm-gateway/internal/config"
)

// watchdogInterval mirrors original_source/src/tracing_otlp.rs's
// spawn_tracer_watchdog: a periodic ForceFlush so spans aren't held in
// the batch processor indefinitely when request volume is low.
const watchdogInterval = 30 * time.Second

// InitTracing builds the process-wide OTel tracer provider, exported
// via OTLP gRPC (default) or OTLP HTTP with basic auth (the
// "langfuse_http" exporter kind, same duality as metrics). Returns a
// shutdown func to call on process exit.
func InitTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter init error: %w", err)
	}

	res, _ := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.Observability.ServiceName),
	))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	go runWatchdog(provider)

	return provider.Shutdown, nil
}

func runWatchdog(provider *sdktrace.TracerProvider) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := provider.ForceFlush(ctx); err != nil {
			logrus.WithError(err).Warn("tracer force flush error")
		}
		cancel()
	}
}

func newSpanExporter(ctx context.Context, cfg *config.Config) (sdktrace.SpanExporter, error) {
	if cfg.Observability.Exporters.Tracing == "langfuse_http" {
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.Observability.OtlpHTTP.TracesEndpoint()),
			otlptracehttp.WithTimeout(time.Duration(cfg.Observability.OtlpHTTP.TimeoutMs)*time.Millisecond),
			otlptracehttp.WithHeaders(map[string]string{
				"Authorization": basicAuthHeader(cfg.Observability.OtlpHTTP.PublicKey, cfg.Observability.OtlpHTTP.SecretKey),
			}),
		)
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Observability.OtlpGrpc.Endpoint),
		otlptracegrpc.WithTimeout(time.Duration(cfg.Observability.OtlpGrpc.TimeoutMs)*time.Millisecond),
		otlptracegrpc.WithInsecure(),
	)
}

// basicAuthHeader builds the "Basic <base64>" value the langfuse-style
// OTLP HTTP collector expects, from its public/secret key pair.
func basicAuthHeader(publicKey, secretKey string) string {
	raw := publicKey + ":" + secretKey
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// SpanFields carries the attribute values for a request span, mirroring
// original_source/src/handlers.rs::start_trace_span exactly: request
// id, model, the translated input/downstream request bodies, and the
// output/downstream response bodies (nil until the request completes).
type SpanFields struct {
	RequestID          string
	Model              string
	Input              string
	DownstreamRequest  string
	Output             *string
	DownstreamResponse *string
}

// Attributes renders f into the fixed OTel attribute set.
func (f SpanFields) Attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("request.id", f.RequestID),
		attribute.String("model", f.Model),
		attribute.String("input", f.Input),
		attribute.String("downstream.request", f.DownstreamRequest),
	}
	if f.Output != nil {
		attrs = append(attrs, attribute.String("output", *f.Output))
	}
	if f.DownstreamResponse != nil {
		attrs = append(attrs, attribute.String("downstream.response", *f.DownstreamResponse))
	}
	return attrs
}

// StartSpan starts a request-scoped "ai.gateway.request" span tagged
// with f's attributes.
func StartSpan(ctx context.Context, f SpanFields) (context.Context, trace.Span) {
	tracer := otel.Tracer("llm-gateway")
	return tracer.Start(ctx, "ai.gateway.request", trace.WithAttributes(f.Attributes()...))
}
