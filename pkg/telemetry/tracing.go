// Package telemetry bootstraps the OTLP trace pipeline.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/credmesh/credmesh/internal/build"
)

type TracerOption func(d *CustomTracer)

func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *CustomTracer) {
		d.endpoint = endpoint
	}
}

// WithOTLPTLS enables TLS on the exporter connection using the host's root
// certificate pool.
func WithOTLPTLS(enabled bool) TracerOption {
	return func(d *CustomTracer) {
		d.tlsEnabled = enabled
	}
}

func WithServiceName(serviceName string) TracerOption {
	return func(d *CustomTracer) {
		d.serviceName = serviceName
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *CustomTracer) {
		d.samplingRatio = samplingRatio
	}
}

type CustomTracer struct {
	endpoint    string
	serviceName string
	tlsEnabled  bool

	samplingRatio float64
}

// MustNewTracerProvider installs a trace provider exporting over OTLP grpc as
// the process-wide default and returns it. The caller owns shutdown.
func MustNewTracerProvider(opts ...TracerOption) *sdktrace.TracerProvider {
	tracer := &CustomTracer{
		endpoint:      "",
		serviceName:   "",
		samplingRatio: 0,
	}

	for _, opt := range opts {
		opt(tracer)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(tracer.serviceName),
			semconv.ServiceVersionKey.String(build.Version),
		))
	if err != nil {
		panic(err)
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tracer.endpoint)}
	if tracer.tlsEnabled {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		panic(fmt.Sprintf("failed to establish a connection with the otlp exporter: %v", err))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tracer.samplingRatio)),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp)),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	otel.SetTracerProvider(tp)

	return tp
}

// TraceError marks span as failed with err as the reason.
func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
