package outbox

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	traceParentKey = "traceparent"
	traceStateKey  = "tracestate"
)

func captureTrace(ctx context.Context) (parent, state string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get(traceParentKey), carrier.Get(traceStateKey)
}

// ContextWithTrace restores the span context recorded in meta so that work
// done by a subscriber joins the trace of the request that enqueued it.
func ContextWithTrace(ctx context.Context, meta Meta) context.Context {
	if meta.TraceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceParentKey: meta.TraceParent}
	if meta.TraceState != "" {
		carrier[traceStateKey] = meta.TraceState
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
