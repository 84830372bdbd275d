package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjod/go_cart/cart-api/internal/log"
)

const instrumentationName = "github.com/fjod/go_cart/cart-api"

// Tracer resolves the global provider lazily, so spans started before Init are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

type ShutdownFunc func(context.Context) error

// Init installs the propagator and, when endpoint is set, an OTLP/gRPC trace exporter.
// The returned shutdown flushes pending spans and is never nil.
func Init(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	logger := zerolog.Ctx(ctx).With().Str(log.KeyTag, "telemetry.Init").Logger()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpoint == "" {
		logger.Info().Msg("no otel endpoint configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	logger.Info().Str(log.KeyProcess, "init trace exporter").Msgf("exporting traces to %s", endpoint)
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	otel.SetTracerProvider(provider)
	logger.Info().Str(log.KeyProcess, "init tracer provider").Msg("initialized tracer provider")

	return provider.Shutdown, nil
}

func RecordError(err error, span trace.Span) {
	if err == nil {
		return
	}
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
