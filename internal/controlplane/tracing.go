package controlplane

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	voxtrace "github.com/gabrielpreston/voxfabric/internal/trace"
)

// InitTracer initializes the global OTel tracer provider for serviceName,
// grounded on lookatitude-beluga-ai's o11y.InitTracer (resource merge +
// sampler + batched/synced exporter wiring). When exporter is nil, spans
// are forwarded to localSink (the adapted internal/trace.Tracer) instead
// of discarded, so correlation spans remain inspectable without standing
// up an OTLP collector. samplerRatio of 1.0 samples every trace; values
// below that apply a parent-based ratio sampler so a sampled parent still
// forces its children to be sampled too.
func InitTracer(serviceName string, exporter sdktrace.SpanExporter, localSink *voxtrace.Tracer, samplerRatio float64) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	if exporter == nil {
		exporter = &localSinkExporter{sink: localSink}
	}

	sampler := sdktrace.AlwaysSample()
	if samplerRatio < 1.0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplerRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the package-level tracer for name, for call sites that
// want to start spans without importing the otel API directly.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// localSinkExporter is a minimal sdktrace.SpanExporter that writes
// finished spans into the adapted internal/trace store as an in-process
// fallback when no OTLP collector is configured.
type localSinkExporter struct {
	sink *voxtrace.Tracer
}

func (e *localSinkExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.sink == nil {
		return nil
	}
	for _, s := range spans {
		turnID := s.SpanContext().TraceID().String()
		var errMsg, status string
		if s.Status().Code.String() == "Error" {
			status = "error"
			errMsg = s.Status().Description
		} else {
			status = "ok"
		}
		e.sink.RecordStageSpan(turnID, s.Name(), s.StartTime(),
			float64(s.EndTime().Sub(s.StartTime()))/float64(time.Millisecond),
			"", "", status, errMsg)
	}
	return nil
}

func (e *localSinkExporter) Shutdown(_ context.Context) error { return nil }
