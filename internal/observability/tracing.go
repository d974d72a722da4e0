package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingConfig configures the process-wide TracerProvider.
type TracingConfig struct {
	ServiceName  string
	SampleRatio  float64
}

// InitTracing installs a global TracerProvider sampling at SampleRatio. No
// exporter is attached, whatever the configuration (OTLPEndpoint is not
// read here); spans still carry valid trace/span IDs so WithContext's log
// correlation works end to end.
func InitTracing(cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
