// Package otelx sets up OTLP tracing and the span helpers the runner uses.
package otelx

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/culler/internal/config"
)

const (
	instrumentationName = "github.com/bakkerme/culler"
	defaultServiceName  = "culler"

	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"
)

// Tracer returns the culler tracer. It is a no-op until Init installs a provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartPhase opens a child span for one run phase (capture, plan, remove).
func StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("culler.phase", phase))
	return Tracer().Start(ctx, "culler."+phase, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// exporterSettings is the OTLP config after defaults are applied.
type exporterSettings struct {
	protocol string
	endpoint string
	insecure bool
	headers  map[string]string
}

func settingsFrom(cfg config.OTelEnvConfig) exporterSettings {
	s := exporterSettings{
		protocol: strings.ToLower(strings.TrimSpace(cfg.Protocol)),
		endpoint: strings.TrimSpace(cfg.Endpoint),
		insecure: cfg.Insecure,
		headers:  cfg.Headers,
	}
	switch s.protocol {
	case "":
		s.protocol = protocolGRPC
	case "http":
		s.protocol = protocolHTTP
	}
	if s.endpoint == "" {
		s.endpoint = "localhost:4317"
		if s.protocol == protocolHTTP {
			s.endpoint = "localhost:4318"
		}
	}
	return s
}

// Init installs a global tracer provider exporting over OTLP and returns its
// shutdown func. Disabled tracing returns a nil func and no error.
func Init(ctx context.Context, logger *slog.Logger, cfg config.OTelEnvConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	settings := settingsFrom(cfg)
	exp, err := newExporter(ctx, settings)
	if err != nil {
		return nil, err
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	ratio := min(max(cfg.SampleRatio, 0), 1)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("tracing enabled",
		"service_name", serviceName,
		"otlp_endpoint", settings.endpoint,
		"otlp_protocol", settings.protocol,
		"sample_ratio", ratio,
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, s exporterSettings) (*otlptrace.Exporter, error) {
	switch s.protocol {
	case protocolGRPC:
		endpoint := s.endpoint
		// The grpc exporter wants host:port; accept a URL for parity with http.
		if strings.Contains(endpoint, "://") {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, fmt.Errorf("parse OTEL_EXPORTER_OTLP_ENDPOINT: %w", err)
			}
			endpoint = u.Host
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if s.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(s.headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(s.headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	case protocolHTTP:
		var opts []otlptracehttp.Option
		if strings.Contains(s.endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(s.endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(s.endpoint))
		}
		if s.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(s.headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(s.headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q (expected grpc or http/protobuf)", s.protocol)
	}
}
