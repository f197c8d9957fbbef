package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tracer creates consumer spans.
type Tracer interface {
	Span(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span)
}

// SpanOption is an alias for OpenTelemetry's span start options.
type SpanOption = trace.SpanStartOption

type otelTracer struct {
	tracer trace.Tracer
	common []attribute.KeyValue
}

func NewTracer(cfg *Config) Tracer {
	tracer := cfg.TracerProvider().Tracer(
		tracerName,
		trace.WithInstrumentationVersion(cfg.InstrumentationVersion()),
	)

	common := append([]attribute.KeyValue{
		attribute.String("messaging.system", cfg.MessagingSystem()),
	}, cfg.Attributes()...)

	return &otelTracer{tracer: tracer, common: common}
}

// Span starts a span carrying messaging.system and the configured common attributes.
func (t *otelTracer) Span(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	opts = append([]SpanOption{trace.WithAttributes(t.common...)}, opts...)

	return t.tracer.Start(ctx, spanName, opts...)
}

var _ Tracer = (*otelTracer)(nil)

func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, StatusSuccess)
}

// RecordSpanResult sets the span status from err and returns StatusError or StatusSuccess.
func RecordSpanResult(span trace.Span, err error) string {
	if err != nil {
		RecordError(span, err)
		return StatusError
	}

	SetSpanSuccess(span)

	return StatusSuccess
}
