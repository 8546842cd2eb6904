// Package tracing starts spans for store and engine operations.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	appctx "github.com/afrojet/seed/pkg/context"
)

var tracer trace.Tracer = noop.NewTracerProvider().Tracer("seed")

func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span tagged with the request's organization and
// request id when the context carries them.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if org := appctx.GetOrganizationID(ctx); org != "" {
		attrs = append(attrs, attribute.String("seed.organization_id", org))
	}
	if id := appctx.GetRequestID(ctx); id != "" {
		attrs = append(attrs, attribute.String("seed.request_id", id))
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// GetTraceID is empty when no recording span is active.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
