// Package observability wires structured logging, tracing and metrics for
// the fieldguide binaries.
//
// Telemetry is off by default: logs go to stdout as JSON and the tracer and
// meter providers are inert. When enabled, logs, traces and metrics export
// over OTLP/HTTP, configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceVersion = "1.0.0"

// Providers bundles the logger and the OTel providers a binary runs with.
// Shutdown flushes and stops all of them.
type Providers struct {
	// Logger is the process-wide structured logger: an otelslog bridge when
	// telemetry is enabled, a stdout JSON handler otherwise.
	Logger *slog.Logger

	logs   *sdklog.LoggerProvider
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Init builds the logger, tracer and meter providers and installs the tracer
// and meter globally so instrumentation libraries (otelhttp) pick them up.
func Init(ctx context.Context, serviceName string, enabled bool) (*Providers, error) {
	logs, logger, err := initLogger(ctx, serviceName, enabled)
	if err != nil {
		return nil, err
	}

	tracer, err := initTracerProvider(ctx, serviceName, enabled)
	if err != nil {
		return nil, err
	}

	meter, err := initMeterProvider(ctx, serviceName, enabled)
	if err != nil {
		return nil, err
	}

	return &Providers{Logger: logger, logs: logs, tracer: tracer, meter: meter}, nil
}

// Shutdown flushes pending telemetry. Safe to call on a disabled setup.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.logs.Shutdown(ctx),
		p.tracer.Shutdown(ctx),
		p.meter.Shutdown(ctx),
	)
}

// parseOTLPHeaders parses OTEL_EXPORTER_OTLP_HEADERS and URL-decodes values.
// Grafana Cloud provides headers in URL-encoded format (e.g., Basic%20token);
// the OTEL spec requires URL encoding, but the Go SDK doesn't always decode it.
func parseOTLPHeaders() map[string]string {
	raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	if raw == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			key := strings.TrimSpace(kv[0])
			value, err := url.QueryUnescape(kv[1])
			if err != nil {
				value = kv[1]
			}
			headers[key] = value
		}
	}
	return headers
}

// newResource merges default SDK attributes with the service identity.
// OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME are honored via WithFromEnv.
func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	serviceResource, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithSchemaURL(semconv.SchemaURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service resource: %w", err)
	}

	res, err := resource.Merge(resource.Default(), serviceResource)
	if err != nil {
		// Partial resources and schema conflicts still yield a usable resource.
		if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
			return res, nil
		}
		return nil, fmt.Errorf("failed to merge resources: %w", err)
	}

	return res, nil
}

func initLogger(ctx context.Context, serviceName string, enabled bool) (*sdklog.LoggerProvider, *slog.Logger, error) {
	if !enabled {
		return sdklog.NewLoggerProvider(), slog.New(slog.NewJSONHandler(os.Stdout, nil)), nil
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	opts := []otlploghttp.Option{
		otlploghttp.WithTimeout(10 * time.Second),
	}
	if headers := parseOTLPHeaders(); headers != nil {
		opts = append(opts, otlploghttp.WithHeaders(headers))
	}

	// Exporter creation uses context.Background() so a cancelled startup
	// context cannot hang the shutdown path.
	logExporter, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
			sdklog.WithExportTimeout(5*time.Second),
		)),
		sdklog.WithResource(res),
	)

	logger := otelslog.NewLogger(serviceName, otelslog.WithLoggerProvider(loggerProvider))

	return loggerProvider, logger, nil
}

func initTracerProvider(ctx context.Context, serviceName string, enabled bool) (*sdktrace.TracerProvider, error) {
	if !enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if headers := parseOTLPHeaders(); headers != nil {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}

	traceExporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
	)

	otel.SetTracerProvider(tracerProvider)

	// W3C Trace Context and Baggage propagation.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider, nil
}

func initMeterProvider(ctx context.Context, serviceName string, enabled bool) (*sdkmetric.MeterProvider, error) {
	if !enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithTimeout(10 * time.Second),
	}
	if headers := parseOTLPHeaders(); headers != nil {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}

	metricExporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(meterProvider)

	return meterProvider, nil
}
