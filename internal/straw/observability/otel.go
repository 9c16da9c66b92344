package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
)

// SetupTracing configures a global TracerProvider exporting to an OTLP/gRPC
// collector, used by the job package to wrap each request in a
// "job.request" span. A worker subprocess is a separately exec'd OS
// process (worker.RunSubprocess), so this must be called inside that
// subprocess, not just in the control-tier main — a TracerProvider set in
// the parent process never reaches the child's spans.
//
// If endpoint is empty, tracing is disabled: SetupTracing returns a nil
// shutdown func and otel.Tracer calls fall back to the package's no-op
// tracer.
func SetupTracing(endpoint, serviceName string, logger *zap.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Info("otlp endpoint not set; tracing disabled")
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized", zap.String("service", serviceName), zap.String("endpoint", endpoint))

	return provider.Shutdown, nil
}
