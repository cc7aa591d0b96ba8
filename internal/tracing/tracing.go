// Package tracing configures the OpenTelemetry tracer used to wrap the
// Core Processor protocol, adapted from the teacher's
// internal/observability/tracing package (SPEC_FULL.md §6).
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/scrap"
)

const tracerName = "github.com/krystianbajno/breachhunter"

// Init configures a global TracerProvider with an OTLP HTTP exporter and
// returns its Shutdown func.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint+"/v1/traces"))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", os.Getenv("DEPLOY_ENV")),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.2))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}

// WrapProcess wraps fn (a Core Processor protocol invocation) in a
// `scrap.process` span carrying scrap.hash and scrap.state attributes.
func WrapProcess(ctx context.Context, sc scrap.Scrap, fn func(ctx context.Context) (scrap.State, error)) (scrap.State, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "scrap.process", oteltrace.WithAttributes(
		attribute.String("scrap.hash", sc.Hash),
		attribute.String("scrap.source", sc.Source),
	))
	defer span.End()

	state, err := fn(ctx)
	span.SetAttributes(attribute.String("scrap.state", string(state)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return state, err
}

// NewLogger is a convenience used by callers that want a named child
// logger bound to this package's log lines.
func NewLogger(base *zap.Logger) *zap.Logger {
	return base.Named("tracing")
}
