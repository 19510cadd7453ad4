package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

const instrumentation = "github.com/odvcencio/sidebar"

// TracerProvider owns the process-wide span pipeline. Spans are written
// as JSON, one batch at a time.
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewTracerProvider installs itself as the global provider. Until it is
// called, StartSpan produces no-op spans.
func NewTracerProvider(service, version string, w io.Writer) (*TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(sdk)
	return &TracerProvider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans. Safe on nil.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// FailSpan records err on span and tags it with the error code.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.code", string(sberrors.GetCode(err))))
	span.SetStatus(codes.Error, err.Error())
}
