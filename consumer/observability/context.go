package observability

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// ExtractTraceContext extracts a producer's trace context from message properties.
// Without one, ctx is returned unchanged and spans started from it become roots.
func ExtractTraceContext(ctx context.Context, properties map[string]string, p propagation.TextMapPropagator) context.Context {
	if len(properties) == 0 {
		return ctx
	}

	return p.Extract(ctx, propagation.MapCarrier(properties))
}

// InjectTraceContext writes the trace context of ctx into a copy of properties.
func InjectTraceContext(ctx context.Context, properties map[string]string, p propagation.TextMapPropagator) map[string]string {
	out := make(map[string]string, len(properties)+2)
	for k, v := range properties {
		out[k] = v
	}

	p.Inject(ctx, propagation.MapCarrier(out))

	return out
}
